//go:build integration

package main_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lingocrowd/core/internal/email"
)

const (
	testAppBinary         = "./lingocrowd_test_app"
	testAppPort           = "8089"
	testServiceApiPortApi = "8091"
	testServiceApiPortBg  = "8092"
	testAppURL            = "http://localhost:" + testAppPort
	testServiceApiURL     = "http://localhost:" + testServiceApiPortApi
	startupTimeout        = 15 * time.Second
	pingEndpoint          = testAppURL + "/v1/ping"
)

// TestMain builds the binary and runs it as two processes, one per run mode, against
// the MongoDB replica set and Redis named in the environment (or .env).
func TestMain(m *testing.M) {
	defer func() {
		_ = os.Remove(testAppBinary)
	}()

	godotenv.Load()
	if os.Getenv("MONGO_URI") == "" {
		log.Println("MONGO_URI is not set, skipping integration tests")
		return
	}

	log.Println("Integration Test Setup: Building application...")
	buildOutput, err := exec.Command("go", "build", "-o", testAppBinary, ".").CombinedOutput()
	if err != nil {
		log.Printf("Failed to build application: %v\nOutput:\n%s", err, string(buildOutput))
		os.Exit(1)
	}

	common := []string{
		"JWT_SECRET=integration-test-secret",
		"GIN_MODE=release",
		"MOCK_SERVICES=true",
		"APP_NAME=LingoCrowd",
		"SMTP_FROM_ADDRESS=test@example.com",
		"RATE_LIMIT_BUCKET_SIZE=1000",
		"RATE_LIMIT_REFILL_RATE=1000",
	}
	apiCmd := startProcess("api", append(common, "API_PORT="+testAppPort, "SERVICE_API_PORT="+testServiceApiPortApi))
	defer stopProcess("API", apiCmd)
	bgCmd := startProcess("bg", append(common, "SERVICE_API_PORT="+testServiceApiPortBg))
	defer stopProcess("Background Worker", bgCmd)

	if !waitForPing() {
		log.Printf("Application failed to start within %v", startupTimeout)
		return
	}
	// The worker has no readiness endpoint of its own.
	time.Sleep(2 * time.Second)

	exitCode := m.Run()
	log.Printf("Integration Test Teardown: Tests finished with exit code %d.", exitCode)
}

func startProcess(mode string, env []string) *exec.Cmd {
	cmd := exec.Command(testAppBinary, "-m", mode)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stderr = os.Stderr
	cmd.Stdout = os.Stdout
	if err := cmd.Start(); err != nil {
		log.Fatalf("Failed to start %s process: %v", mode, err)
	}
	log.Printf("Integration Test Setup: %s process started (PID: %d)", mode, cmd.Process.Pid)
	return cmd
}

func stopProcess(name string, cmd *exec.Cmd) {
	log.Printf("Sending SIGTERM to %s...", name)
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		_ = cmd.Process.Kill()
		return
	}
	_, _ = cmd.Process.Wait()
}

func waitForPing() bool {
	deadline := time.Now().Add(startupTimeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(pingEndpoint)
		if err == nil {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK && string(body) == "pong" {
				return true
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	return false
}

// callApi posts {method, arguments} to the public JSON API.
func callApi(t *testing.T, token, method string, args ...interface{}) (int, map[string]interface{}) {
	t.Helper()
	if args == nil {
		args = []interface{}{}
	}
	payload, err := json.Marshal(map[string]interface{}{"method": method, "arguments": args})
	require.NoError(t, err)
	return postJSON(t, testAppURL+"/v1/api", token, payload)
}

func callServiceAPI(t *testing.T, method string, args ...interface{}) (int, map[string]interface{}) {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{"method": method, "arguments": args})
	require.NoError(t, err)
	return postJSON(t, testServiceApiURL+"/api", "", payload)
}

func postJSON(t *testing.T, url, token string, payload []byte) (int, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest("POST", url, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		body = map[string]interface{}{"raw_body": string(raw)}
	}
	return resp.StatusCode, body
}

// registerUser creates an account with the given role and returns its token and ID.
func registerUser(t *testing.T, role string) (token, id, address string) {
	t.Helper()
	address = fmt.Sprintf("%s_%d@example.com", role, time.Now().UnixNano())
	status, body := callApi(t, "", "register", map[string]interface{}{
		"name":     "Test " + role,
		"email":    address,
		"password": "StrongP@ssw0rd123",
		"role":     role,
	})
	require.Equal(t, http.StatusOK, status, "register: %v", body)
	data := body["data"].(map[string]interface{})
	return data["token"].(string), data["id"].(string), address
}

func dataMap(t *testing.T, body map[string]interface{}) map[string]interface{} {
	t.Helper()
	require.Equal(t, true, body["success"], "unexpected failure: %v", body)
	data, ok := body["data"].(map[string]interface{})
	require.True(t, ok, "data is not an object: %v", body["data"])
	return data
}

func TestIntegration_Ping(t *testing.T) {
	resp, err := http.Get(pingEndpoint)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pong", string(body))

	status, apiBody := callApi(t, "", "ping")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]interface{}{"success": true, "data": "pong"}, apiBody)
}

func TestIntegration_RegisterAndLogin(t *testing.T) {
	_, id, address := registerUser(t, "student")

	status, body := callApi(t, "", "register", map[string]interface{}{
		"name": "Dup", "email": address, "password": "StrongP@ssw0rd123", "role": "student",
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "conflict", body["code"])

	status, body = callApi(t, "", "login", map[string]interface{}{"email": address, "password": "StrongP@ssw0rd123"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, id, dataMap(t, body)["id"])

	status, body = callApi(t, "", "login", map[string]interface{}{"email": address, "password": "wrong"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["data"])
}

// TestIntegration_NegotiationToProject walks a request through a conversation and an
// accepted offer, then checks the teacher was e-mailed.
func TestIntegration_NegotiationToProject(t *testing.T) {
	studentToken, _, _ := registerUser(t, "student")
	teacherToken, _, teacherEmail := registerUser(t, "teacher")

	_, body := callApi(t, studentToken, "createRequest", map[string]interface{}{
		"title":       "Business Spanish",
		"description": "Vocabulary for meetings",
		"language":    "es",
		"level":       "B2",
		"budget":      5000,
	})
	requestID := dataMap(t, body)["id"].(string)

	status, _ := callApi(t, studentToken, "createConversation", requestID)
	assert.Equal(t, http.StatusForbidden, status, "students cannot open conversations")

	_, body = callApi(t, teacherToken, "createConversation", requestID)
	created := dataMap(t, body)
	assert.Equal(t, true, created["created"])
	conversationID := created["conversation"].(map[string]interface{})["id"].(string)

	_, body = callApi(t, teacherToken, "createConversation", requestID)
	assert.Equal(t, false, dataMap(t, body)["created"], "reopening returns the existing conversation")

	_, body = callApi(t, teacherToken, "makeOffer", map[string]interface{}{
		"conversation_id": conversationID,
		"title":           "Meeting Spanish",
		"description":     "Three short videos",
		"is_series":       true,
		"price_per_video": 1500,
		"num_videos":      3,
	})
	offerID := dataMap(t, body)["id"].(string)

	status, body = callApi(t, teacherToken, "acceptOffer", offerID)
	assert.Equal(t, http.StatusForbidden, status, "the author cannot accept their own offer: %v", body)

	_, body = callApi(t, studentToken, "acceptOffer", offerID)
	project := dataMap(t, body)
	assert.Equal(t, "FUNDING", project["status"])
	assert.Equal(t, float64(4500), project["funding_goal"])

	status, body = callApi(t, studentToken, "acceptOffer", offerID)
	assert.Equal(t, http.StatusConflict, status, "second accept: %v", body)

	subject := "LingoCrowd: your offer was accepted"
	var stored email.StoredEmail
	require.Eventually(t, func() bool {
		status, body := callServiceAPI(t, "getTestEmail", teacherEmail, subject)
		if status != http.StatusOK {
			return false
		}
		raw, _ := json.Marshal(body["data"])
		return json.Unmarshal(raw, &stored) == nil
	}, 10*time.Second, 500*time.Millisecond, "teacher was not e-mailed about the accepted offer")
	assert.Contains(t, stored.Body, "/projects/")
}

func TestIntegration_PublicReads(t *testing.T) {
	resp, err := http.Get(testAppURL + "/v1/requests?status=OPEN&limit=5")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(testAppURL + "/v1/project/not-an-id")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)

	resp3, err := http.Get(testAppURL + "/v1/notifications")
	require.NoError(t, err)
	defer resp3.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp3.StatusCode)
}
