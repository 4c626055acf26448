package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (map[string]interface{}, error) {
	t.Helper()
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("REDIS_ENABLED", "false")
	t.Setenv("CLINIC_TIMEZONE", "UTC")
	t.Setenv("LOG_LEVEL", "error")

	var out bytes.Buffer
	root := rootCmd()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()

	var body map[string]interface{}
	if out.Len() > 0 {
		require.NoError(t, json.Unmarshal(out.Bytes(), &body))
	}
	return body, err
}

func TestClinicctl_NextToken(t *testing.T) {
	body, err := run(t, "next-token")
	require.NoError(t, err)
	assert.Equal(t, "token", body["purpose"])
	assert.Equal(t, float64(1), body["value"])
}

func TestClinicctl_SeedAndHealth(t *testing.T) {
	body, err := run(t, "seed")
	require.NoError(t, err)
	assert.Equal(t, true, body["seeded"])

	body, err = run(t, "health")
	require.NoError(t, err)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "memory", body["backend"])
}

func TestClinicctl_WipeNeedsConfirmation(t *testing.T) {
	_, err := run(t, "wipe", "--user", "admin")
	assert.ErrorContains(t, err, "--confirm")

	_, err = run(t, "wipe", "--confirm")
	assert.ErrorContains(t, err, "--user")

	body, err := run(t, "wipe", "--user", "admin", "--confirm")
	require.NoError(t, err)
	assert.Equal(t, true, body["wiped"])
}

func TestClinicctl_AuditVerifyAndMirror(t *testing.T) {
	body, err := run(t, "audit", "verify")
	require.NoError(t, err)
	assert.Equal(t, true, body["intact"])

	_, err = run(t, "mirror", "push")
	assert.Error(t, err, "mirror is disabled by default")
}
