package services

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOAuthTokens_LinkAndRead(t *testing.T) {
	h := newHarness(t)
	s := NewOAuthTokenService(h.deps)
	ctx := context.Background()

	require.NoError(t, s.Link(ctx, "u1", LinkOAuthInput{
		Provider: " Google ", ProviderAccountID: "g-1", AccessToken: "ya29.access", RefreshToken: "1//refresh",
	}))

	stored := h.st.oauth["u1|google"]
	require.NotNil(t, stored)
	assert.NotContains(t, stored.AccessToken, "ya29")

	// Stored tokens are bound to their purpose and do not open as plain fields.
	_, err := h.deps.Cipher.Decrypt(stored.AccessToken)
	assert.ErrorIs(t, err, common.ErrDecryptionFailed)

	access, refresh, err := s.Tokens(ctx, "u1", "google")
	require.NoError(t, err)
	assert.Equal(t, "ya29.access", access)
	assert.Equal(t, "1//refresh", refresh)

	list, err := s.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "g-1", list[0].ProviderAccountID)

	require.NoError(t, s.Revoke(ctx, "u1", "google"))
	assert.ErrorIs(t, s.Revoke(ctx, "u1", "google"), common.ErrorNotFound)
}

func TestOAuthTokens_Validation(t *testing.T) {
	h := newHarness(t)
	s := NewOAuthTokenService(h.deps)
	ctx := context.Background()

	err := s.Link(ctx, "u1", LinkOAuthInput{Provider: "myspace", ProviderAccountID: "x", AccessToken: "t"})
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	err = s.Link(ctx, "u1", LinkOAuthInput{Provider: "facebook"})
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, _, err = s.Tokens(ctx, "u1", "facebook")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestOAuthTokens_Tampered(t *testing.T) {
	h := newHarness(t)
	s := NewOAuthTokenService(h.deps)
	ctx := context.Background()

	require.NoError(t, s.Link(ctx, "u1", LinkOAuthInput{Provider: "google", ProviderAccountID: "g", AccessToken: "tok"}))
	h.st.oauth["u1|google"].AccessToken = flipCiphertext(h.st.oauth["u1|google"].AccessToken)

	_, _, err := s.Tokens(ctx, "u1", "google")
	assert.ErrorIs(t, err, common.ErrDecryptionFailed)
	assert.Contains(t, scrape(t, h.metrics), "field_decrypt_failures_total 1")
}
