package cloud_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"soteria-unit/internal/cloud"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPing_SendsAuthAndPayload(t *testing.T) {
	var gotQuery map[string]string
	var gotBody cloud.PingRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/open-accommodation-machines/ping", r.URL.Path)
		gotQuery = map[string]string{
			"code":  r.URL.Query().Get("code"),
			"token": r.URL.Query().Get("token"),
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte("192.168.1.20"))
	}))
	defer srv.Close()

	c := cloud.NewClient(srv.URL, time.Second, zap.NewNop())
	addr, err := c.Ping(context.Background(), "MC-01", "tok", &cloud.PingRequest{
		IPAddress:       "10.0.0.5",
		MACAddress:      "aa:bb:cc:dd:ee:ff",
		RoomCount:       3,
		FirmwareVersion: "1.4.2",
		Mode:            "Production",
		DeviceTime:      "2026-01-02 03:04:05 PM",
	})

	require.NoError(t, err)
	assert.Equal(t, "192.168.1.20", addr)
	assert.Equal(t, "MC-01", gotQuery["code"])
	assert.Equal(t, "tok", gotQuery["token"])
	assert.Equal(t, "10.0.0.5", gotBody.IPAddress)
	assert.Equal(t, 3, gotBody.RoomCount)
}

func TestPing_QuotedBodyTrimmed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("\"192.168.1.20\"\n"))
	}))
	defer srv.Close()

	c := cloud.NewClient(srv.URL, time.Second, zap.NewNop())
	addr, err := c.Ping(context.Background(), "c", "t", &cloud.PingRequest{})
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.20", addr)
}

func TestPing_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := cloud.NewClient(srv.URL, time.Second, zap.NewNop())
	_, err := c.Ping(context.Background(), "c", "t", &cloud.PingRequest{})
	assert.Error(t, err)
}

func TestSyncEmergencies_StringBooleansOnWire(t *testing.T) {
	var raw []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/open-accommodation-machines/sync-emergencies", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`["ref00001"]`))
	}))
	defer srv.Close()

	c := cloud.NewClient(srv.URL, time.Second, zap.NewNop())
	refs, err := c.SyncEmergencies(context.Background(), "c", "t", []cloud.EmergencyRecord{
		{
			RoomName:  "R1",
			AlarmTime: "2026-01-02 03:04:05 PM",
			Reference: "ref00001",
			IsSent:    "false",
			Mode:      "Production",
			Synced:    "false",
		},
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"ref00001"}, refs)

	require.Len(t, raw, 1)
	// booleans must cross the wire as lowercase strings
	assert.Equal(t, "false", raw[0]["isSent"])
	assert.Equal(t, "false", raw[0]["synced"])
	assert.Equal(t, "R1", raw[0]["roomName"])
}

func TestSyncEmergencies_BadResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := cloud.NewClient(srv.URL, time.Second, zap.NewNop())
	_, err := c.SyncEmergencies(context.Background(), "c", "t", nil)
	assert.Error(t, err)
}
