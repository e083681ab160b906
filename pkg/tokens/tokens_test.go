package tokens

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cultivarhq/cultivar/pkg/configuration"
	"github.com/cultivarhq/cultivar/pkg/serrors"
)

func testSigner() *Signer {
	return NewSigner(configuration.TokenOptions{
		Secret:         "test-secret",
		LoginSalt:      "login",
		DownloadSalt:   "download",
		LoginExpiry:    time.Hour,
		DownloadExpiry: 10 * time.Minute,
	})
}

func TestSignVerify(t *testing.T) {
	s := testSigner()

	raw, err := s.Sign(PurposeLogin, "42")
	require.NoError(t, err)

	subject, err := s.Verify(PurposeLogin, raw)
	require.NoError(t, err)
	assert.Equal(t, "42", subject)
}

func TestVerifyEnforcesPurpose(t *testing.T) {
	s := testSigner()
	raw, err := s.Sign(PurposeLogin, "42")
	require.NoError(t, err)

	_, err = s.Verify(PurposeDownload, raw)
	assert.True(t, serrors.IsUnauthorised(err), "a login token is not a download token")
}

func TestVerifyEnforcesExpiry(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	s := testSigner().WithClock(func() time.Time { return now })

	raw, err := s.Sign(PurposeDownload, "file-9")
	require.NoError(t, err)

	now = now.Add(5 * time.Minute)
	_, err = s.Verify(PurposeDownload, raw)
	require.NoError(t, err)

	now = now.Add(10 * time.Minute)
	_, err = s.Verify(PurposeDownload, raw)
	assert.True(t, serrors.IsUnauthorised(err))
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	s := testSigner()
	other := NewSigner(configuration.TokenOptions{
		Secret:      "another-secret",
		LoginSalt:   "login",
		LoginExpiry: time.Hour,
	})

	raw, err := other.Sign(PurposeLogin, "42")
	require.NoError(t, err)
	_, err = s.Verify(PurposeLogin, raw)
	assert.True(t, serrors.IsUnauthorised(err))
}

func TestUnknownPurpose(t *testing.T) {
	s := testSigner()
	_, err := s.Sign(Purpose("unknown"), "42")
	assert.True(t, serrors.IsIllegalOperation(err))
	_, err = s.Verify(Purpose("unknown"), "raw")
	assert.True(t, serrors.IsIllegalOperation(err))
}
