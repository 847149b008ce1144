// Command atlasctl is a thin CLI client for the Atlas management API,
// exercising the /health and /stats collaborator endpoints. It is a stub
// client: most of the management surface lives in internal/api and is out
// of core scope here.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

func main() {
	var (
		addr    = flag.String("addr", "127.0.0.1:8080", "Atlas management API HOST:PORT")
		apiKey  = flag.String("api-key", "", "API key, if the management API requires one")
		timeout = flag.Duration("timeout", 5*time.Second, "Request timeout")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: atlasctl [flags] <health|stats>\n")
		os.Exit(2)
	}

	var path string
	switch flag.Arg(0) {
	case "health":
		path = "/api/v1/health"
	case "stats":
		path = "/api/v1/stats"
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want health or stats)\n", flag.Arg(0))
		os.Exit(2)
	}

	body, err := get(*addr, path, *apiKey, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "atlasctl: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(body)
}

func get(addr, path, apiKey string, timeout time.Duration) (string, error) {
	url := fmt.Sprintf("http://%s%s", addr, path)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var pretty map[string]any
	if err := json.Unmarshal(raw, &pretty); err == nil {
		out, err := json.MarshalIndent(pretty, "", "  ")
		if err == nil {
			return string(out), nil
		}
	}
	return string(raw), nil
}
