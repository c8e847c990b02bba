package alarm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"soteria-unit/internal/alarm"
	"soteria-unit/internal/cloud"
	"soteria-unit/internal/models"
	"soteria-unit/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	return store.New(t.TempDir(), "wifi_config.json", "wifi_config.bak.json", "version.txt", zap.NewNop())
}

func newProtocol(t *testing.T, st *store.Store, cloudURL string, online bool) *alarm.Protocol {
	t.Helper()
	c := cloud.NewClient(cloudURL, time.Second, zap.NewNop())
	return alarm.NewProtocol(st, c, func() bool { return online }, time.Second, zap.NewNop())
}

// motherStub records received alarms and answers with its machine code
func motherStub(t *testing.T, machineCode string, status int) (*httptest.Server, *[]map[string]any) {
	t.Helper()
	var received []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/api/mother/alarm", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		received = append(received, body)
		if status != 200 {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"machine_code": machineCode})
	}))
	return srv, &received
}

func hostOf(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestTrigger_FanOutAndRecord(t *testing.T) {
	okMother, okReceived := motherStub(t, "MC-M1", 200)
	defer okMother.Close()
	badMother, badReceived := motherStub(t, "MC-M2", 500)
	defer badMother.Close()

	st := newTestStore(t)
	doc := models.Default()
	doc.BlockName = "Block A"
	doc.MotherAddresses = hostOf(okMother) + "," + hostOf(badMother)
	require.NoError(t, st.Save(doc))

	p := newProtocol(t, st, "http://127.0.0.1:1", false)
	event, err := p.Trigger(context.Background(), "R3")
	require.NoError(t, err)

	assert.True(t, event.IsSent)
	assert.Equal(t, []string{"MC-M1"}, event.SuccessfulMothers)
	assert.Equal(t, models.ModeProduction, event.Mode)
	assert.GreaterOrEqual(t, len(event.Reference), 8)
	assert.LessOrEqual(t, len(event.Reference), 10)

	// single attempt per address, even on failure
	assert.Len(t, *okReceived, 1)
	assert.Len(t, *badReceived, 1)
	assert.Equal(t, "Block A", (*okReceived)[0]["block_name"])
	assert.Equal(t, "R3", (*okReceived)[0]["room"])

	saved := st.Load()
	require.Len(t, saved.LastAlarm, 1)
	assert.Equal(t, event.Reference, saved.LastAlarm[0].Reference)
	assert.False(t, saved.LastAlarm[0].Synced)
}

func TestTrigger_AllMothersUnreachable(t *testing.T) {
	st := newTestStore(t)
	doc := models.Default()
	doc.BlockName = "Block A"
	doc.MotherAddresses = "127.0.0.1:1" // nothing listens here
	require.NoError(t, st.Save(doc))

	p := newProtocol(t, st, "http://127.0.0.1:1", false)
	event, err := p.Trigger(context.Background(), "R1")
	require.NoError(t, err)

	assert.False(t, event.IsSent)
	assert.Empty(t, event.SuccessfulMothers)

	saved := st.Load()
	require.Len(t, saved.LastAlarm, 1)
	assert.False(t, saved.LastAlarm[0].IsSent)
}

func TestTrigger_OnlineEscalatesToCloud(t *testing.T) {
	var synced bool
	cloudSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/open-accommodation-machines/sync-emergencies", r.URL.Path)
		var batch []map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&batch))
		refs := make([]string, 0, len(batch))
		for _, b := range batch {
			refs = append(refs, b["reference"].(string))
		}
		synced = true
		json.NewEncoder(w).Encode(refs)
	}))
	defer cloudSrv.Close()

	st := newTestStore(t)
	doc := models.Default()
	doc.BlockName = "Block A"
	doc.MachineCode = "MC-01"
	doc.MachineToken = "tok"
	require.NoError(t, st.Save(doc))

	p := newProtocol(t, st, cloudSrv.URL, true)
	_, err := p.Trigger(context.Background(), "R1")
	require.NoError(t, err)

	assert.True(t, synced, "online trigger must escalate to cloud immediately")
	saved := st.Load()
	require.Len(t, saved.LastAlarm, 1)
	assert.True(t, saved.LastAlarm[0].Synced)
}

func TestSyncToCloud_MarksOnlyAcknowledged(t *testing.T) {
	cloudSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// only the first reference gets acknowledged
		var batch []map[string]any
		json.NewDecoder(r.Body).Decode(&batch)
		json.NewEncoder(w).Encode([]string{batch[0]["reference"].(string)})
	}))
	defer cloudSrv.Close()

	st := newTestStore(t)
	doc := models.Default()
	doc.MachineCode = "MC-01"
	doc.MachineToken = "tok"
	doc.LastAlarm = []models.AlarmEvent{
		{Room: "R1", Reference: "aaaa1111", Mode: models.ModeProduction},
		{Room: "R2", Reference: "bbbb2222", Mode: models.ModeProduction},
	}
	require.NoError(t, st.Save(doc))

	p := newProtocol(t, st, cloudSrv.URL, true)
	require.NoError(t, p.SyncToCloud(context.Background()))

	saved := st.Load()
	assert.True(t, saved.LastAlarm[0].Synced)
	assert.False(t, saved.LastAlarm[1].Synced, "reference not in cloud response must stay unsynced")
}

func TestSyncToCloud_NoBacklogIsNoop(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Save(models.Default()))

	// cloud unreachable on purpose: no backlog means no call
	p := newProtocol(t, st, "http://127.0.0.1:1", true)
	assert.NoError(t, p.SyncToCloud(context.Background()))
}

func TestSyncToCloud_MotherNotApplicable(t *testing.T) {
	st := newTestStore(t)
	doc := models.Default()
	doc.IsMother = true
	doc.LastAlarm = []models.AlarmEvent{{Reference: "aaaa1111"}}
	require.NoError(t, st.Save(doc))

	p := newProtocol(t, st, "http://127.0.0.1:1", true)
	assert.NoError(t, p.SyncToCloud(context.Background()))
	assert.False(t, st.Load().LastAlarm[0].Synced)
}

func TestSyncToCloud_CloudFailureKeepsBacklog(t *testing.T) {
	cloudSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer cloudSrv.Close()

	st := newTestStore(t)
	doc := models.Default()
	doc.MachineCode = "MC-01"
	doc.MachineToken = "tok"
	doc.LastAlarm = []models.AlarmEvent{{Room: "R1", Reference: "aaaa1111"}}
	require.NoError(t, st.Save(doc))

	p := newProtocol(t, st, cloudSrv.URL, true)
	assert.Error(t, p.SyncToCloud(context.Background()))
	assert.False(t, st.Load().LastAlarm[0].Synced)
}

func TestIngestMotherAlarm_RingFollowsMode(t *testing.T) {
	st := newTestStore(t)
	doc := models.Default()
	doc.MachineCode = "MC-MOTHER"
	doc.IsMother = true
	require.NoError(t, st.Save(doc))

	p := newProtocol(t, st, "http://127.0.0.1:1", false)

	code, err := p.IngestMotherAlarm("Block A", "R1", "2026-01-02 03:04:05 PM", "aaaa1111", models.ModeMaintenance)
	require.NoError(t, err)
	assert.Equal(t, "MC-MOTHER", code)

	_, err = p.IngestMotherAlarm("Block A", "R2", "2026-01-02 03:05:05 PM", "bbbb2222", models.ModeProduction)
	require.NoError(t, err)

	saved := st.Load()
	require.Len(t, saved.MotherAlarms, 2)
	assert.False(t, saved.MotherAlarms[0].Ring, "maintenance alarms are logged but never alerted")
	assert.True(t, saved.MotherAlarms[1].Ring)
}

func TestIngestMotherAlarm_DedupByReference(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Save(models.Default()))

	p := newProtocol(t, st, "http://127.0.0.1:1", false)
	_, err := p.IngestMotherAlarm("Block A", "R1", "", "aaaa1111", models.ModeProduction)
	require.NoError(t, err)
	_, err = p.IngestMotherAlarm("Block A", "R1", "", "aaaa1111", models.ModeProduction)
	require.NoError(t, err)

	assert.Len(t, st.Load().MotherAlarms, 1)
}

func TestResetRings_ClearsFlagsKeepsEntries(t *testing.T) {
	st := newTestStore(t)
	doc := models.Default()
	doc.MotherAlarms = []models.MotherAlarmEntry{
		{Room: "R1", Reference: "aaaa1111", Ring: true},
		{Room: "R2", Reference: "bbbb2222", Ring: true},
	}
	require.NoError(t, st.Save(doc))

	p := newProtocol(t, st, "http://127.0.0.1:1", false)
	require.NoError(t, p.ResetRings())

	saved := st.Load()
	require.Len(t, saved.MotherAlarms, 2)
	assert.False(t, saved.MotherAlarms[0].Ring)
	assert.False(t, saved.MotherAlarms[1].Ring)
}
