package models

import (
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewShortLink_Defaults(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	link := NewShortLink("abc1234", "https://example.com", nil, now)

	assert.NotEqual(t, uuid.Nil, link.ID)
	assert.True(t, link.IsGuest())
	assert.False(t, link.IsDeleted())
	assert.Equal(t, http.StatusFound, link.RedirectStatusCode)
	assert.Equal(t, now, link.ActivatedAt)
	assert.False(t, link.SingleUse)
	assert.False(t, link.ForwardQueryParams)
	assert.Len(t, link.TrackingFields(), 7)
}

func TestShortLink_TrackingFields(t *testing.T) {
	link := NewShortLink("abc1234", "https://example.com", nil, time.Now())
	link.TrackIPAddress = false
	link.TrackDeviceType = false

	assert.Equal(t, []string{
		"operating_system",
		"operating_system_version",
		"browser",
		"browser_version",
		"referer_url",
	}, link.TrackingFields())

	link.TrackVisits = false
	assert.Empty(t, link.TrackingFields())
}

func TestIsValidRedirectStatusCode(t *testing.T) {
	for _, code := range []int{301, 302, 303, 307, 308} {
		assert.True(t, IsValidRedirectStatusCode(code), code)
	}
	for _, code := range []int{200, 300, 304, 404} {
		assert.False(t, IsValidRedirectStatusCode(code), code)
	}
}

func TestOptional(t *testing.T) {
	assert.Nil(t, Optional(""))
	require.NotNil(t, Optional("x"))
	assert.Equal(t, "x", Deref(Optional("x")))
	assert.Equal(t, "", Deref(nil))
}

func TestHeaders_ValueScan(t *testing.T) {
	h := Headers{"User-Agent": {"curl/8.0"}}
	v, err := h.Value()
	require.NoError(t, err)

	var scanned Headers
	require.NoError(t, scanned.Scan(v))
	assert.Equal(t, h, scanned)

	var empty Headers
	v, err = empty.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("{}"), v)

	assert.Error(t, scanned.Scan(42))
}

func TestMetadata_ScanString(t *testing.T) {
	var m Metadata
	require.NoError(t, m.Scan(`{"browser_version":"120.0"}`))
	assert.Equal(t, "120.0", m["browser_version"])
}
