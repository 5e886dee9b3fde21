package testutil

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

const pollEvery = 20 * time.Millisecond

// FindFreePort returns a TCP port on 127.0.0.1 that was free a moment ago.
func FindFreePort() (string, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	defer l.Close()
	return strconv.Itoa(l.Addr().(*net.TCPAddr).Port), nil
}

// pollUntil calls check until it reports done or timeout passes.
func pollUntil(timeout time.Duration, check func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if check() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(pollEvery)
	}
}

// WaitForReady polls baseURL+"/ready" until the server answers 200.
func WaitForReady(baseURL string, timeout time.Duration) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ok := pollUntil(timeout, func() bool {
		resp, err := client.Get(baseURL + "/ready")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})
	if !ok {
		return fmt.Errorf("server at %s not ready after %v", baseURL, timeout)
	}
	return nil
}

// JobStatus is the body of GET /api/jobs/{id}/status.
type JobStatus struct {
	Status string          `json:"status"`
	Error  string          `json:"error"`
	Result json.RawMessage `json:"result"`
}

// WaitForJob polls a job's status until it is completed or failed.
func WaitForJob(baseURL, jobID string, timeout time.Duration) (JobStatus, error) {
	var last JobStatus
	ok := pollUntil(timeout, func() bool {
		resp, err := http.Get(baseURL + "/api/jobs/" + jobID + "/status")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var st JobStatus
		if resp.StatusCode != http.StatusOK || json.NewDecoder(resp.Body).Decode(&st) != nil {
			return false
		}
		last = st
		return st.Status == "completed" || st.Status == "failed"
	})
	if !ok {
		return last, fmt.Errorf("job %s still %q after %v", jobID, last.Status, timeout)
	}
	return last, nil
}

// WaitForShutdown waits for done to deliver Start's result.
func WaitForShutdown(done <-chan error, timeout time.Duration) error {
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for shutdown after %v", timeout)
	}
}
