package netlink

import (
	"context"
	"testing"
	"time"

	"soteria-unit/internal/config"
	"soteria-unit/internal/models"
	"soteria-unit/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeRadio scripted radio for unit tests
type fakeRadio struct {
	associated     bool
	ip             string
	associateCalls int
	resets         int
	// associateAfter: number of Associate calls after which the radio reports associated
	associateAfter int
}

func (f *fakeRadio) SetActive(on bool) {
	if !on {
		f.resets++
	}
}

func (f *fakeRadio) Associate(ssid, password string) error {
	f.associateCalls++
	if f.associateAfter > 0 && f.associateCalls >= f.associateAfter {
		f.associated = true
	}
	return nil
}

func (f *fakeRadio) Associated() bool { return f.associated }
func (f *fakeRadio) IP() string       { return f.ip }
func (f *fakeRadio) MAC() string      { return "aa:bb:cc:dd:ee:ff" }

type fakeAccessPoint struct {
	starts int
	stops  int
}

func (f *fakeAccessPoint) Start(ctx context.Context) (string, error) {
	f.starts++
	return "192.168.4.1", nil
}

func (f *fakeAccessPoint) Stop() { f.stops++ }

func newTestLink(t *testing.T, radio Radio) (*Link, *store.Store) {
	t.Helper()
	st := store.New(t.TempDir(), "wifi_config.json", "wifi_config.bak.json", "version.txt", zap.NewNop())
	cfg := &config.Config{}
	l := New(cfg, st, radio, nil, zap.NewNop())
	l.connectTimeout = 50 * time.Millisecond
	l.connectPoll = 5 * time.Millisecond
	l.monitorInterval = 5 * time.Millisecond
	l.maxFailures = 2
	l.cooldown = time.Hour
	return l, st
}

func seedCredentials(t *testing.T, st *store.Store) {
	t.Helper()
	doc := models.Default()
	doc.SSID = "MyWifi"
	doc.Password = "pass"
	require.NoError(t, st.Save(doc))
}

func TestConnect_NoCredentials(t *testing.T) {
	l, _ := newTestLink(t, &fakeRadio{})
	err := l.Connect(context.Background())
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestConnect_AlreadyAssociated_ShortCircuits(t *testing.T) {
	radio := &fakeRadio{associated: true, ip: "10.0.0.5"}
	l, st := newTestLink(t, radio)
	seedCredentials(t, st)

	require.NoError(t, l.Connect(context.Background()))
	assert.Zero(t, radio.associateCalls)
	// short-circuit does not touch the document
	assert.Empty(t, st.Load().IPAddress)
}

func TestConnect_Success_PersistsIP(t *testing.T) {
	radio := &fakeRadio{ip: "10.0.0.5", associateAfter: 1}
	l, st := newTestLink(t, radio)
	seedCredentials(t, st)

	require.NoError(t, l.Connect(context.Background()))
	assert.Equal(t, "10.0.0.5", st.Load().IPAddress)
}

func TestConnect_Timeout_NoMutation(t *testing.T) {
	radio := &fakeRadio{} // never associates
	l, st := newTestLink(t, radio)
	seedCredentials(t, st)

	before := st.Load()
	err := l.Connect(context.Background())
	assert.ErrorIs(t, err, ErrConnectTimeout)
	assert.Equal(t, before, st.Load())
}

func TestMonitorCycle_FailureCounterAndCooldown(t *testing.T) {
	radio := &fakeRadio{} // offline, reconnects keep timing out
	l, st := newTestLink(t, radio)
	seedCredentials(t, st)

	ctx := context.Background()

	cooldown := l.monitorCycle(ctx)
	assert.False(t, cooldown)
	assert.Equal(t, 1, l.failures)

	cooldown = l.monitorCycle(ctx)
	assert.True(t, cooldown, "second consecutive timeout must trigger cooldown")
	assert.Equal(t, 2, l.failures)

	// loss of connection clears the stored address
	assert.Empty(t, st.Load().IPAddress)
}

func TestMonitorCycle_SuccessResetsCounter(t *testing.T) {
	radio := &fakeRadio{}
	l, st := newTestLink(t, radio)
	seedCredentials(t, st)

	ctx := context.Background()
	assert.False(t, l.monitorCycle(ctx))
	assert.Equal(t, 1, l.failures)

	// next attempt succeeds
	radio.associateAfter = radio.associateCalls + 1
	assert.False(t, l.monitorCycle(ctx))
	assert.Equal(t, 0, l.failures)
}

func TestMonitorCycle_AssociatedResetsCounter(t *testing.T) {
	radio := &fakeRadio{}
	l, st := newTestLink(t, radio)
	seedCredentials(t, st)

	l.failures = 1
	radio.associated = true
	assert.False(t, l.monitorCycle(context.Background()))
	assert.Equal(t, 0, l.failures)
}

func TestMonitorCycle_NoCredentials_NotCounted(t *testing.T) {
	radio := &fakeRadio{}
	l, _ := newTestLink(t, radio)

	assert.False(t, l.monitorCycle(context.Background()))
	assert.Equal(t, 0, l.failures)
	assert.Zero(t, radio.associateCalls)
}

func TestMonitorCycle_NoCredentials_StartsAccessPointOnce(t *testing.T) {
	radio := &fakeRadio{}
	ap := &fakeAccessPoint{}
	l, _ := newTestLink(t, radio)
	l.ap = ap

	ctx := context.Background()
	assert.False(t, l.monitorCycle(ctx))
	assert.Equal(t, 1, ap.starts, "unprovisioned device must open a local configuration path")

	// idempotent across cycles
	assert.False(t, l.monitorCycle(ctx))
	assert.Equal(t, 1, ap.starts)
	assert.Zero(t, ap.stops)
}

func TestMonitorCycle_CooldownStartsAccessPoint(t *testing.T) {
	radio := &fakeRadio{} // reconnects keep timing out
	ap := &fakeAccessPoint{}
	l, st := newTestLink(t, radio)
	l.ap = ap
	seedCredentials(t, st)

	ctx := context.Background()
	assert.False(t, l.monitorCycle(ctx))
	assert.Zero(t, ap.starts, "below the failure threshold the AP stays down")

	assert.True(t, l.monitorCycle(ctx))
	assert.Equal(t, 1, ap.starts)
}

func TestMonitorCycle_AssociationStopsAccessPoint(t *testing.T) {
	radio := &fakeRadio{}
	ap := &fakeAccessPoint{}
	l, st := newTestLink(t, radio)
	l.ap = ap
	seedCredentials(t, st)

	ctx := context.Background()
	assert.False(t, l.monitorCycle(ctx)) // AP still down, one failure counted
	l.failures = l.maxFailures
	l.startAccessPoint(ctx)
	require.Equal(t, 1, ap.starts)

	// credentials fixed in the field, next reconnect succeeds
	radio.associateAfter = radio.associateCalls + 1
	assert.False(t, l.monitorCycle(ctx))
	assert.Equal(t, 1, ap.stops)
	assert.Equal(t, 0, l.failures)

	// an already associated cycle also tears the AP down
	l.apActive = true
	assert.False(t, l.monitorCycle(ctx))
	assert.Equal(t, 2, ap.stops)
}
