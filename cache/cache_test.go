package cache

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestInMemoryCacheRoundTrip(t *testing.T) {
	c := NewInMemoryCache(time.Hour)

	require.NoError(t, c.Set("latest", []byte(`{"data":{}}`)))

	entry, found := c.Get("latest")
	require.True(t, found)
	assert.Equal(t, []byte(`{"data":{}}`), entry.Value)
	assert.Less(t, entry.Age(), time.Second)

	_, found = c.Get("missing")
	assert.False(t, found)
}

func TestInMemoryCacheCeilingHidesOldEntries(t *testing.T) {
	c := NewInMemoryCache(50 * time.Millisecond)

	require.NoError(t, c.Set("latest", "v1"))
	_, found := c.Get("latest")
	assert.True(t, found)

	time.Sleep(70 * time.Millisecond)
	_, found = c.Get("latest")
	assert.False(t, found)
}

func TestInMemoryCacheDeleteAndClear(t *testing.T) {
	c := NewInMemoryCache(time.Hour)

	require.NoError(t, c.Set("a", 1))
	require.NoError(t, c.Set("b", 2))

	require.NoError(t, c.Delete("a"))
	_, found := c.Get("a")
	assert.False(t, found)

	require.NoError(t, c.Clear())
	_, found = c.Get("b")
	assert.False(t, found)
}

func TestCleanupEvictsExpiredEntries(t *testing.T) {
	c := NewInMemoryCache(10 * time.Millisecond)

	require.NoError(t, c.Set("latest", "v1"))
	time.Sleep(30 * time.Millisecond)
	c.cleanup()

	c.mutex.RLock()
	defer c.mutex.RUnlock()
	assert.Empty(t, c.entries)
}

func TestGetStaleHonorsMaxAge(t *testing.T) {
	sc := NewStaleCache(NewInMemoryCache(time.Hour), testLogger())

	require.NoError(t, sc.StoreGood("latest", []byte("payload")))

	value, ok := sc.GetStale("latest", time.Minute)
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), value)

	// A stricter age bound than the entry's age yields a miss.
	time.Sleep(20 * time.Millisecond)
	_, ok = sc.GetStale("latest", 5*time.Millisecond)
	assert.False(t, ok)
}

func TestGetStaleMissesOnUnknownKey(t *testing.T) {
	sc := NewStaleCache(NewInMemoryCache(time.Hour), testLogger())

	_, ok := sc.GetStale("never-stored", time.Minute)
	assert.False(t, ok)
}

func TestInvalidateRemovesEntry(t *testing.T) {
	sc := NewStaleCache(NewInMemoryCache(time.Hour), testLogger())

	require.NoError(t, sc.StoreGood("latest", "v1"))
	require.NoError(t, sc.Invalidate("latest"))

	_, ok := sc.GetStale("latest", time.Minute)
	assert.False(t, ok)
}
