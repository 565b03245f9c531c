package commands

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const defaultAddr = "http://127.0.0.1:8642"

// apiClient is the thin HTTP client the CLI commands use against a running
// engine.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: base,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) postJSON(path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := c.http.Post(c.base+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decode(resp, out)
}

func (c *apiClient) getJSON(path string, out any) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decode(resp, out)
}

// stream prints a line-oriented response body until it ends. No client
// timeout: a running job's log stays open until the job goes terminal.
func (c *apiClient) stream(path string, w io.Writer) error {
	client := &http.Client{}
	resp, err := client.Get(c.base + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		fmt.Fprintln(w, sc.Text())
	}
	return sc.Err()
}

func decode(resp *http.Response, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func apiError(resp *http.Response) error {
	var e struct {
		Message string `json:"message"`
		Errors  any    `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&e); err == nil && e.Message != "" {
		if e.Errors != nil {
			return fmt.Errorf("%s (%d): %v", e.Message, resp.StatusCode, e.Errors)
		}
		return fmt.Errorf("%s (%d)", e.Message, resp.StatusCode)
	}
	return fmt.Errorf("unexpected status %d", resp.StatusCode)
}

func addrFlag(cmd *cobra.Command, addr *string) {
	cmd.Flags().StringVar(addr, "addr", defaultAddr, "engine API address")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
