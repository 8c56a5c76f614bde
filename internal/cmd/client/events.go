package client

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type pairArg struct {
	Key   uint16 `json:"key"`
	Value string `json:"value"`
}

type logRequest struct {
	Priority  uint8     `json:"priority"`
	EventID   uint16    `json:"eventId"`
	Timestamp *uint32   `json:"timestamp,omitempty"`
	ValueSize uint8     `json:"valueSize"`
	Pairs     []pairArg `json:"pairs"`
	MarkSent  bool      `json:"markSent"`
}

// parsePairs turns KEY=HEX arguments into pairs. Every value must be
// valueSize bytes long.
func parsePairs(args []string, valueSize int) ([]pairArg, error) {
	out := make([]pairArg, 0, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok {
			return nil, fmt.Errorf("invalid pair %q; expected KEY=HEX", a)
		}
		key, err := strconv.ParseUint(k, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid pair key %q: %w", k, err)
		}
		b, err := hex.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("invalid pair value %q: %w", v, err)
		}
		if len(b) != valueSize {
			return nil, fmt.Errorf("pair %d has %d bytes, value size is %d", key, len(b), valueSize)
		}
		out = append(out, pairArg{Key: uint16(key), Value: v})
	}
	return out, nil
}

// parseTime accepts unix seconds or RFC3339.
func parseTime(s string) (uint32, error) {
	if n, err := strconv.ParseUint(s, 10, 32); err == nil {
		return uint32(n), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q; expected unix seconds or RFC3339", s)
	}
	return uint32(t.Unix()), nil
}

// NewEventsCommand constructs the `events` command group.
func NewEventsCommand(baseURL BaseURLFunc) *cobra.Command {
	eventsCmd := &cobra.Command{Use: "events", Short: "Event log operations"}
	eventsCmd.AddCommand(
		newEventsLogCommand(baseURL),
		newEventsQueryCommand(baseURL),
		newEventsGetLogCommand(baseURL),
		newEventsMarkSentCommand(baseURL),
		newEventsDumpCommand(baseURL),
		newEventsClearCommand(baseURL),
	)
	return eventsCmd
}

func newEventsLogCommand(baseURL BaseURLFunc) *cobra.Command {
	logCmd := &cobra.Command{
		Use:   "log",
		Short: "Log an event",
		RunE: func(cmd *cobra.Command, _ []string) error {
			priority, _ := cmd.Flags().GetUint8("priority")
			id, _ := cmd.Flags().GetUint16("id")
			valueSize, _ := cmd.Flags().GetUint8("value-size")
			pairArgs, _ := cmd.Flags().GetStringArray("pair")
			at, _ := cmd.Flags().GetString("at")
			sent, _ := cmd.Flags().GetBool("sent")

			pairs, err := parsePairs(pairArgs, int(valueSize))
			if err != nil {
				return err
			}
			req := logRequest{Priority: priority, EventID: id, ValueSize: valueSize, Pairs: pairs, MarkSent: sent}
			if at != "" {
				ts, err := parseTime(at)
				if err != nil {
					return err
				}
				req.Timestamp = &ts
			}
			var out map[string]any
			if err := doJSON(cmd.Context(), http.MethodPost, baseURL()+"/v1/events", req, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	logCmd.Flags().Uint8("priority", 0, "Priority (0-255)")
	logCmd.Flags().Uint16("id", 0, "Event id")
	logCmd.Flags().Uint8("value-size", 0, "Bytes per pair value")
	logCmd.Flags().StringArray("pair", nil, "Pair as KEY=HEX (repeatable)")
	logCmd.Flags().String("at", "", "Timestamp: unix seconds or RFC3339 (default now)")
	logCmd.Flags().Bool("sent", false, "Store the event already marked sent")
	return logCmd
}

func newEventsQueryCommand(baseURL BaseURLFunc) *cobra.Command {
	queryCmd := &cobra.Command{
		Use:   "query",
		Short: "Query high priority events by type",
		Long:  "Query high priority events. --type is unsent, date (--start/--end as times) or index (--start/--end as alarm indices, --severity).",
		RunE: func(cmd *cobra.Command, _ []string) error {
			typ, _ := cmd.Flags().GetString("type")
			start, _ := cmd.Flags().GetString("start")
			end, _ := cmd.Flags().GetString("end")
			severity, _ := cmd.Flags().GetUint8("severity")
			size, _ := cmd.Flags().GetInt("size")

			q := url.Values{}
			q.Set("type", typ)
			switch typ {
			case "date":
				s, err := parseTime(start)
				if err != nil {
					return err
				}
				e, err := parseTime(end)
				if err != nil {
					return err
				}
				q.Set("start", strconv.FormatUint(uint64(s), 10))
				q.Set("end", strconv.FormatUint(uint64(e), 10))
			case "index":
				q.Set("start", start)
				q.Set("end", end)
				q.Set("severity", strconv.Itoa(int(severity)))
			}
			if size > 0 {
				q.Set("size", strconv.Itoa(size))
			}
			var out map[string]any
			if err := doJSON(cmd.Context(), http.MethodGet, baseURL()+"/v1/events?"+q.Encode(), nil, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	queryCmd.Flags().String("type", "unsent", "Query type: unsent|date|index")
	queryCmd.Flags().String("start", "", "Range start")
	queryCmd.Flags().String("end", "", "Range end")
	queryCmd.Flags().Uint8("severity", 3, "Severity for index queries: 2 or 3")
	queryCmd.Flags().Int("size", 0, "Buffer size in bytes (0 = server default)")
	return queryCmd
}

type getLogResult struct {
	Status         string            `json:"status"`
	LastAlarmIndex uint8             `json:"lastAlarmIndex"`
	Events         []json.RawMessage `json:"events"`
	Sent           []json.RawMessage `json:"sent"`
}

func newEventsGetLogCommand(baseURL BaseURLFunc) *cobra.Command {
	getLogCmd := &cobra.Command{
		Use:   "getlog",
		Short: "Extract unsent events with their sent descriptors",
		RunE: func(cmd *cobra.Command, _ []string) error {
			size, _ := cmd.Flags().GetInt("size")
			ack, _ := cmd.Flags().GetBool("ack")

			u := baseURL() + "/v1/events/log"
			if size > 0 {
				u += "?size=" + strconv.Itoa(size)
			}
			var res getLogResult
			if err := doJSON(cmd.Context(), http.MethodPost, u, nil, &res); err != nil {
				return err
			}
			if err := printJSON(cmd, res); err != nil {
				return err
			}
			if !ack || len(res.Sent) == 0 {
				return nil
			}
			var done map[string]any
			if err := doJSON(cmd.Context(), http.MethodPost, baseURL()+"/v1/events/sent", res.Sent, &done); err != nil {
				return err
			}
			return printJSON(cmd, done)
		},
	}
	getLogCmd.Flags().Int("size", 0, "Buffer size in bytes (0 = server default)")
	getLogCmd.Flags().Bool("ack", false, "Mark the extracted events sent afterwards")
	return getLogCmd
}

func newEventsMarkSentCommand(baseURL BaseURLFunc) *cobra.Command {
	markCmd := &cobra.Command{
		Use:   "marksent",
		Short: "Mark events sent from a JSON list of descriptors",
		RunE: func(cmd *cobra.Command, _ []string) error {
			file, _ := cmd.Flags().GetString("file")
			var raw []byte
			var err error
			if file == "" || file == "-" {
				raw, err = readAll(cmd)
			} else {
				raw, err = os.ReadFile(file)
			}
			if err != nil {
				return err
			}
			var list []json.RawMessage
			if err := json.Unmarshal(raw, &list); err != nil {
				return fmt.Errorf("descriptors must be a JSON array: %w", err)
			}
			var out map[string]any
			if err := doJSON(cmd.Context(), http.MethodPost, baseURL()+"/v1/events/sent", list, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	markCmd.Flags().StringP("file", "f", "-", "File with descriptors (- for stdin)")
	return markCmd
}

func newEventsDumpCommand(baseURL BaseURLFunc) *cobra.Command {
	dumpCmd := &cobra.Command{
		Use:   "dump",
		Short: "List stored records of a class",
		RunE: func(cmd *cobra.Command, _ []string) error {
			class, _ := cmd.Flags().GetString("class")
			filter, _ := cmd.Flags().GetString("filter")
			q := url.Values{}
			q.Set("class", class)
			if filter != "" {
				q.Set("filter", filter)
			}
			var out map[string]any
			if err := doJSON(cmd.Context(), http.MethodGet, baseURL()+"/v1/events/dump?"+q.Encode(), nil, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	dumpCmd.Flags().String("class", "high", "Partition class: high|normal")
	dumpCmd.Flags().String("filter", "", "CEL filter, e.g. 'priority >= 200 && !sent'")
	return dumpCmd
}

func newEventsClearCommand(baseURL BaseURLFunc) *cobra.Command {
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Erase both partitions (requires --confirm)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			confirm, _ := cmd.Flags().GetBool("confirm")
			if !confirm {
				return fmt.Errorf("refusing to clear without --confirm")
			}
			if err := doJSON(cmd.Context(), http.MethodDelete, baseURL()+"/v1/events", nil, nil); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", "OK")
			return nil
		},
	}
	clearCmd.Flags().Bool("confirm", false, "Confirm the erase")
	return clearCmd
}

// NewUsageCommand constructs the `usage` command.
func NewUsageCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Show partition usage and alarm indices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out map[string]any
			if err := doJSON(cmd.Context(), http.MethodGet, baseURL()+"/v1/usage", nil, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
}
