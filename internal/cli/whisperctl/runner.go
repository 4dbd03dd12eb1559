package whisperctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/whisperer/whisperer/internal/assistant"
	"github.com/whisperer/whisperer/internal/brands"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type call struct {
	method string
	path   string
	body   any
	render func(w io.Writer, raw []byte) error
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("whisperctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "Whisperer API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 90*time.Second), "HTTP timeout (e.g. 90s)")
	rawJSON := fs.Bool("json", false, "print the raw JSON response")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	c, err := buildCall(strings.TrimSpace(fs.Arg(0)), fs.Args()[1:], stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
		writeUsage(stderr)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + c.path
	code, responseBody, err := doRequest(ctx, client, c.method, endpoint, *apiKey, c.body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if c.render != nil && !*rawJSON {
		if err := c.render(stdout, responseBody); err != nil {
			_, _ = fmt.Fprintf(stderr, "render response: %v\n", err)
			return 1
		}
		return 0
	}
	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func buildCall(command string, args []string, stderr io.Writer) (call, error) {
	switch command {
	case "health":
		return call{method: http.MethodGet, path: "/v1/health"}, nil
	case "ready":
		return call{method: http.MethodGet, path: "/v1/ready"}, nil
	case "brands":
		return call{method: http.MethodGet, path: "/v1/brands", render: renderBrands}, nil
	case "new-session":
		fs := flag.NewFlagSet("new-session", flag.ContinueOnError)
		fs.SetOutput(stderr)
		property := fs.String("property", "", "analytics property id")
		brand := fs.String("brand", "", "brand name to resolve to a property")
		if err := fs.Parse(args); err != nil {
			return call{}, err
		}
		if *property == "" && *brand == "" {
			return call{}, fmt.Errorf("new-session needs -property or -brand")
		}
		return call{
			method: http.MethodPost,
			path:   "/v1/sessions",
			body:   map[string]string{"property_id": *property, "brand_name": *brand},
			render: renderSessionID,
		}, nil
	case "show":
		id, err := sessionArg(command, args)
		if err != nil {
			return call{}, err
		}
		return call{method: http.MethodGet, path: sessionPath(id, "")}, nil
	case "ask":
		id, err := sessionArg(command, args)
		if err != nil {
			return call{}, err
		}
		question := strings.TrimSpace(strings.Join(args[1:], " "))
		if question == "" {
			return call{}, fmt.Errorf("ask needs a question")
		}
		return call{
			method: http.MethodPost,
			path:   sessionPath(id, "/ask"),
			body:   map[string]string{"question": question},
			render: renderTurn,
		}, nil
	case "reset":
		id, err := sessionArg(command, args)
		if err != nil {
			return call{}, err
		}
		return call{method: http.MethodPost, path: sessionPath(id, "/reset")}, nil
	case "delete":
		id, err := sessionArg(command, args)
		if err != nil {
			return call{}, err
		}
		return call{method: http.MethodDelete, path: sessionPath(id, "")}, nil
	case "export":
		id, err := sessionArg(command, args)
		if err != nil {
			return call{}, err
		}
		target := ""
		if len(args) > 1 {
			target = strings.TrimSpace(args[1])
		}
		return call{
			method: http.MethodPost,
			path:   sessionPath(id, "/export"),
			body:   map[string]string{"target": target},
		}, nil
	case "translate":
		question := strings.TrimSpace(strings.Join(args, " "))
		if question == "" {
			return call{}, fmt.Errorf("translate needs a question")
		}
		return call{
			method: http.MethodPost,
			path:   "/v1/query/translate",
			body:   map[string]string{"question": question},
		}, nil
	default:
		return call{}, fmt.Errorf("unknown command %q", command)
	}
}

func sessionArg(command string, args []string) (string, error) {
	if len(args) < 1 || strings.TrimSpace(args[0]) == "" {
		return "", fmt.Errorf("%s needs a session id", command)
	}
	return strings.TrimSpace(args[0]), nil
}

func sessionPath(id, suffix string) string {
	return "/v1/sessions/" + url.PathEscape(id) + suffix
}

func doRequest(ctx context.Context, client *http.Client, method, endpoint, apiKey string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, raw, nil
}

func renderBrands(w io.Writer, raw []byte) error {
	var payload struct {
		Brands []brands.Brand `json:"brands"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"name", "property_id", "account"})
	for _, b := range payload.Brands {
		table.Append([]string{b.Name, b.PropertyID, b.Account})
	}
	table.Render()
	return nil
}

func renderSessionID(w io.Writer, raw []byte) error {
	var payload struct {
		ID string `json:"session_id"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, payload.ID)
	return err
}

// renderTurn prints the answer text followed by the fetched table, if any.
func renderTurn(w io.Writer, raw []byte) error {
	var turn assistant.TurnResult
	if err := json.Unmarshal(raw, &turn); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "[%s] %s\n", turn.Status, turn.Text())
	if turn.Details != "" {
		_, _ = fmt.Fprintf(w, "details: %s\n", turn.Details)
	}
	if turn.Result != nil && !turn.Result.Empty() {
		_, _ = fmt.Fprintln(w)
		turn.Result.WriteTable(w, -1)
	}
	return nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: whisperctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                                GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                                 GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  brands                                GET /v1/brands")
	_, _ = fmt.Fprintln(w, "  new-session -property ID | -brand N   POST /v1/sessions")
	_, _ = fmt.Fprintln(w, "  show <session>                        GET /v1/sessions/{id}")
	_, _ = fmt.Fprintln(w, "  ask <session> <question>              POST /v1/sessions/{id}/ask")
	_, _ = fmt.Fprintln(w, "  reset <session>                       POST /v1/sessions/{id}/reset")
	_, _ = fmt.Fprintln(w, "  delete <session>                      DELETE /v1/sessions/{id}")
	_, _ = fmt.Fprintln(w, "  export <session> [sheets|objectstore] POST /v1/sessions/{id}/export")
	_, _ = fmt.Fprintln(w, "  translate <question>                  POST /v1/query/translate")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
