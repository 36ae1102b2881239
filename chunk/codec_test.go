package chunk

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syndicate-storage/syndicate-sub005/errs"
	"github.com/syndicate-storage/syndicate-sub005/wire"
)

// fakeDriver reverses bytes for "serialize" and reverses them back for
// "deserialize", so a round trip through both roles is only a no-op if
// both legs actually ran.
type fakeDriver struct {
	absent bool
}

func (f *fakeDriver) Dispatch(role string, req *wire.RequestData, payload []byte) ([]byte, error) {
	if f.absent {
		return nil, errs.New("fakeDriver.Dispatch", errs.DriverAbsent, nil)
	}
	switch role {
	case "serialize", "deserialize":
		out := make([]byte, len(payload))
		for i, b := range payload {
			out[len(payload)-1-i] = b
		}
		return out, nil
	}
	return nil, errs.New("fakeDriver.Dispatch", errs.InvalidArgument, nil)
}

func req() *wire.RequestData {
	return &wire.RequestData{FileID: 42, FileVersion: 3, BlockID: 7, BlockVersion: 1}
}

func TestSerializeDeserializeRoundTripWithDriver(t *testing.T) {
	c := &Codec{Driver: &fakeDriver{}}
	plain := []byte("hello chunk bytes")

	wireBytes, err := c.Serialize(req(), plain)
	require.NoError(t, err)
	assert.NotEqual(t, plain, wireBytes)

	got, err := c.Deserialize(req(), wireBytes)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestSerializeIsIdentityWhenDriverAbsent(t *testing.T) {
	c := &Codec{Driver: &fakeDriver{absent: true}}
	plain := []byte("unchanged")

	got, err := c.Serialize(req(), plain)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestSerializeIsIdentityWhenNoDriverConfigured(t *testing.T) {
	c := &Codec{}
	plain := []byte("still unchanged")

	got, err := c.Serialize(req(), plain)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	c := &Codec{Signer: &Signer{GatewayID: 9, PrivateKey: priv}}
	sc, err := c.Sign(req(), []byte("payload"))
	require.NoError(t, err)

	got, err := Verify(req(), sc, 9, pub)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestVerifyRejectsWrongSigner(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	c := &Codec{Signer: &Signer{GatewayID: 9, PrivateKey: priv}}
	sc, err := c.Sign(req(), []byte("payload"))
	require.NoError(t, err)

	_, err = Verify(req(), sc, 10, pub)
	assert.Equal(t, errs.WrongSigner, errs.CodeOf(err))
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	c := &Codec{Signer: &Signer{GatewayID: 9, PrivateKey: priv}}
	sc, err := c.Sign(req(), []byte("payload"))
	require.NoError(t, err)

	sc.Payload = []byte("tampered")
	_, err = Verify(req(), sc, 9, pub)
	assert.Equal(t, errs.InvalidSignature, errs.CodeOf(err))
}
