package validator

import (
	"io"
	"net/http"
	"strings"
	"time"
)

// defaultHTTPClient bounds every provider probe.
func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 15 * time.Second}
}

// execute runs one probe request and classifies the HTTP outcome: a 2xx
// response is Active, any other response is InActive, and a transport
// failure surfaces as an error for the caller to map to StateError.
func execute(client *http.Client, req *http.Request) (Outcome, error) {
	req.Header.Set("Cache-Control", "no-cache")

	resp, errDo := client.Do(req)
	if errDo != nil {
		return Outcome{State: StateError}, errDo
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	outcome := Outcome{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		outcome.State = StateActive
	} else {
		outcome.State = StateInActive
	}
	return outcome, nil
}
