// Package client provides the `evlog` command-line client.
//
// The CLI talks to the evlog HTTP API. The base URL is supplied by the
// embedding application through a BaseURLFunc; the standalone binary reads
// EVLOG_HTTP and defaults to http://127.0.0.1:8080.
//
// Usage
//
//	evlog events log --priority 220 --id 1201 --value-size 2 --pair 1051=0a0b
//	evlog events query --type date --start 2026-01-01T00:00:00Z --end 2026-01-02T00:00:00Z
//	evlog events query --type index --start 0 --end 20 --severity 3
//	evlog events getlog --ack
//	evlog events dump --class normal --filter 'priority >= 100 && !sent'
//	evlog events clear --confirm
//	evlog usage
//	evlog params
//	evlog params set realtimeThreshold --value 200
//	evlog heep date --range 1767225600,1767312000
//	evlog heep index --start 0 --end 10 --severity 2 --raw
package client
