package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syndicate-storage/syndicate-sub005/errs"
)

func TestParseRGIDsEmptyStringYieldsNil(t *testing.T) {
	ids, err := parseRGIDs("")
	require.NoError(t, err)
	assert.Nil(t, ids)
}

func TestParseRGIDsSplitsCommaList(t *testing.T) {
	ids, err := parseRGIDs("1,2,3")
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3}, ids)
}

func TestParseRGIDsTrimsWhitespace(t *testing.T) {
	ids, err := parseRGIDs(" 10 , 20")
	require.NoError(t, err)
	assert.Equal(t, []uint64{10, 20}, ids)
}

func TestParseRGIDsRejectsMalformedEntry(t *testing.T) {
	_, err := parseRGIDs("1,not-a-number")
	assert.Error(t, err)
}

func TestStaticAddressorResolvesConfiguredPeer(t *testing.T) {
	addressor := staticAddressor(map[string]string{"7": "10.0.0.1:7443"})
	addr, err := addressor(7)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:7443", addr)
}

func TestStaticAddressorReportsNoDataForUnknownGateway(t *testing.T) {
	addressor := staticAddressor(map[string]string{"7": "10.0.0.1:7443"})
	_, err := addressor(99)
	assert.Equal(t, errs.NoData, errs.CodeOf(err))
}
