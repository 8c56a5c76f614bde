package client

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rzbill/evlog/internal/heep"
)

// heepStatusHeader mirrors the header the server sets on head-end answers.
const heepStatusHeader = "X-Heep-Status"

// NewParamsCommand constructs the `params` command group.
func NewParamsCommand(baseURL BaseURLFunc) *cobra.Command {
	paramsCmd := &cobra.Command{
		Use:   "params",
		Short: "Read and write event log parameters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out []map[string]any
			if err := doJSON(cmd.Context(), http.MethodGet, baseURL()+"/v1/params", nil, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	paramsCmd.AddCommand(&cobra.Command{
		Use:   "get NAME",
		Short: "Read one parameter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := doJSON(cmd.Context(), http.MethodGet, baseURL()+"/v1/params/"+args[0], nil, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	})
	setCmd := &cobra.Command{
		Use:   "set NAME",
		Short: "Write one parameter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, _ := cmd.Flags().GetUint8("value")
			var out map[string]any
			body := map[string]uint8{"value": v}
			if err := doJSON(cmd.Context(), http.MethodPut, baseURL()+"/v1/params/"+args[0], body, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	setCmd.Flags().Uint8("value", 0, "New value (0-255)")
	_ = setCmd.MarkFlagRequired("value")
	paramsCmd.AddCommand(setCmd)
	return paramsCmd
}

// NewHeepCommand constructs the `heep` command group that issues binary
// head-end alarm reads.
func NewHeepCommand(baseURL BaseURLFunc) *cobra.Command {
	heepCmd := &cobra.Command{Use: "heep", Short: "Head-end alarm reads"}

	dateCmd := &cobra.Command{
		Use:   "date",
		Short: "Read alarms by date ranges",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ranges, _ := cmd.Flags().GetStringArray("range")
			raw, _ := cmd.Flags().GetBool("raw")
			req, err := encodeDateRequest(ranges)
			if err != nil {
				return err
			}
			return heepRead(cmd, baseURL()+"/v1/heep/alarms/date", req, raw)
		},
	}
	dateCmd.Flags().StringArray("range", nil, "Range as START,END (unix seconds or RFC3339, repeatable)")
	dateCmd.Flags().Bool("raw", false, "Print the payload as hex")

	indexCmd := &cobra.Command{
		Use:   "index",
		Short: "Read alarms by alarm index range",
		RunE: func(cmd *cobra.Command, _ []string) error {
			start, _ := cmd.Flags().GetUint8("start")
			end, _ := cmd.Flags().GetUint8("end")
			sev, _ := cmd.Flags().GetUint8("severity")
			raw, _ := cmd.Flags().GetBool("raw")
			return heepRead(cmd, baseURL()+"/v1/heep/alarms/index", []byte{start, end, sev}, raw)
		},
	}
	indexCmd.Flags().Uint8("start", 0, "First alarm index")
	indexCmd.Flags().Uint8("end", 255, "Last alarm index")
	indexCmd.Flags().Uint8("severity", 3, "Severity: 2 or 3")
	indexCmd.Flags().Bool("raw", false, "Print the payload as hex")

	heepCmd.AddCommand(dateCmd, indexCmd)
	return heepCmd
}

func encodeDateRequest(ranges []string) ([]byte, error) {
	if len(ranges) == 0 || len(ranges) > 15 {
		return nil, fmt.Errorf("need 1 to 15 --range values, have %d", len(ranges))
	}
	req := make([]byte, 1, 1+8*len(ranges))
	req[0] = byte(len(ranges)) << 4
	for _, r := range ranges {
		s, e, ok := strings.Cut(r, ",")
		if !ok {
			return nil, fmt.Errorf("invalid range %q; expected START,END", r)
		}
		start, err := parseTime(s)
		if err != nil {
			return nil, err
		}
		end, err := parseTime(e)
		if err != nil {
			return nil, err
		}
		req = binary.BigEndian.AppendUint32(req, start)
		req = binary.BigEndian.AppendUint32(req, end)
	}
	return req, nil
}

func heepRead(cmd *cobra.Command, url string, req []byte, raw bool) error {
	resp, err := doRequest(cmd.Context(), http.MethodPost, url, req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	status := resp.Header.Get(heepStatusHeader)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		if status != "" {
			_, _ = io.Copy(io.Discard, resp.Body)
			return &apiError{Status: resp.StatusCode, Message: status}
		}
		return readAPIError(resp)
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if raw {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", status)
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(payload))
		return nil
	}
	blocks, err := heep.DecodeCompactRead(payload)
	if err != nil {
		return err
	}
	return printJSON(cmd, map[string]any{"status": status, "bytes": len(payload), "blocks": blocks})
}
