package swap_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klingon-exchange/klingon-bridge/internal/ledger"
	"github.com/klingon-exchange/klingon-bridge/internal/platform/stub"
	"github.com/klingon-exchange/klingon-bridge/internal/swap"
)

func TestRegistry(t *testing.T) {
	local := stub.New(swap.DefaultLocalPlatform, localAddr)
	eth := stub.New("eth", ethAddr)
	neo := stub.New("neo", "AQVh2pG732YvtNaxEGkQUei3YA4cvo7d2i")

	r, err := swap.NewRegistry("", local, eth, neo)
	require.NoError(t, err)
	assert.Equal(t, swap.DefaultLocalPlatform, r.Local())
	assert.Equal(t, []string{"local", "eth", "neo"}, r.Names())
	assert.True(t, r.IsLocal("local"))
	assert.False(t, r.IsLocal("eth"))

	got, err := r.Find("neo")
	require.NoError(t, err)
	assert.Same(t, neo, got)

	_, err = r.Find("tron")
	assert.ErrorIs(t, err, swap.ErrUnknownPlatform)
	assert.Equal(t, swap.FailurePlatform, swap.FailureReasonOf(err))
}

func TestRegistryRejectsBadInput(t *testing.T) {
	local := stub.New(swap.DefaultLocalPlatform, localAddr)

	_, err := swap.NewRegistry("", local, stub.New("eth", ethAddr), stub.New("eth", bobAddr))
	assert.ErrorIs(t, err, swap.ErrDuplicatePlatform)

	_, err = swap.NewRegistry("", stub.New("eth", ethAddr))
	assert.ErrorIs(t, err, swap.ErrMissingLocal)

	_, err = swap.NewRegistry("", local, stub.New("", ethAddr))
	assert.Error(t, err)
}

func TestLookup_GetSwapNotFound(t *testing.T) {
	f := newFixture(t, 0)

	_, err := f.lookup.GetSwap("missing")
	assert.ErrorIs(t, err, swap.ErrSwapNotFound)

	exists, err := f.lookup.HasSwap("missing")
	require.NoError(t, err)
	assert.False(t, exists)

	hashes, err := f.lookup.SwapHashesForAddress(aliceAddr)
	require.NoError(t, err)
	assert.NotNil(t, hashes)
	assert.Empty(t, hashes)
}

func TestLookup_PendingSwaps(t *testing.T) {
	f := newFixture(t, 0)
	f.local.Report(outbound("p1"))

	stuck := outbound("p2")
	stuck.DestinationPlatform = "tron"
	f.local.Report(stuck)

	f.eth.Report(inbound("p3"))
	f.local.OnReceive(func(*swap.Record) (string, error) { return "", nil })

	require.NoError(t, f.driver.RunCycle(context.Background()))

	finished, err := f.lookup.PendingSwaps(aliceAddr, swap.StatusFinished)
	require.NoError(t, err)
	require.Len(t, finished, 1)
	assert.Equal(t, "p1", finished[0].SourceHash)

	failedPlatform, err := f.lookup.PendingSwaps(strings.ToLower(aliceAddr), swap.StatusFailedPlatform)
	require.NoError(t, err)
	require.Len(t, failedPlatform, 1)
	assert.Equal(t, "p2", failedPlatform[0].SourceHash)

	failedReceive, err := f.lookup.PendingSwaps(aliceAddr, swap.StatusFailedReceive)
	require.NoError(t, err)
	require.Len(t, failedReceive, 1)
	assert.Equal(t, "p3", failedReceive[0].SourceHash)

	all, err := f.lookup.SwapsForAddress(aliceAddr)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	pending, completed, err := f.lookup.SwapCount()
	require.NoError(t, err)
	assert.Equal(t, 2, pending)
	assert.Equal(t, 1, completed)

	active, err := f.lookup.ListSwaps(10, false)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestLookup_FindPlatformByAddress(t *testing.T) {
	f := newFixture(t, 0)

	assert.Equal(t, "eth", f.lookup.FindPlatformByAddress(ethAddr))
	assert.Equal(t, "eth", f.lookup.FindPlatformByAddress(strings.ToLower(ethAddr)))
	assert.Equal(t, "", f.lookup.FindPlatformByAddress(localAddr), "local platform is never a counterparty")
	assert.Equal(t, "", f.lookup.FindPlatformByAddress(aliceAddr))
	assert.Equal(t, "", f.lookup.FindPlatformByAddress(""))
}

func TestLookup_FindToken(t *testing.T) {
	f := newFixture(t, 0)

	token, err := f.lookup.FindTokenBySymbol("SOUL")
	require.NoError(t, err)
	assert.Equal(t, uint8(8), token.Decimals)

	byHash, err := f.lookup.FindTokenByHash("0x" + ledger.TokenHash("ETH"))
	require.NoError(t, err)
	assert.Equal(t, "ETH", byHash.Symbol)

	_, err = f.lookup.FindTokenBySymbol("NOPE")
	assert.ErrorIs(t, err, ledger.ErrTokenNotFound)
}

func TestStatus(t *testing.T) {
	rec := outbound("s1")
	rec.State = swap.StateBroker
	assert.Equal(t, swap.StatusBroker, rec.Status())
	assert.Equal(t, swap.EventWaiting, swap.EventKindOf(rec))

	rec.Failure = swap.FailureBroker
	assert.Equal(t, swap.StatusFailedBroker, rec.Status())
	assert.Equal(t, swap.EventFailure, swap.EventKindOf(rec))

	rec.Failure = swap.FailureNone
	rec.State = swap.StateInvalid
	assert.Equal(t, swap.EventFailure, swap.EventKindOf(rec))
	assert.True(t, rec.State.IsTerminal())

	st, err := swap.ParseStatus("failed_receive")
	require.NoError(t, err)
	assert.Equal(t, swap.StatusFailedReceive, st)

	_, err = swap.ParseStatus("lost")
	assert.Error(t, err)
}
