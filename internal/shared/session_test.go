package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestSessions(t *testing.T) (*SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "receiving_session", "secret", time.Hour, false), mr
}

func roundTrip(t *testing.T, sm *SessionManager, cookie *http.Cookie, fn func(*Session)) (*Session, *http.Cookie) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	if fn != nil {
		fn(sess)
	}
	rr := httptest.NewRecorder()
	require.NoError(t, sm.Commit(context.Background(), rr, sess))
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	return sess, cookies[0]
}

func TestSessionPersistsValues(t *testing.T) {
	sm, _ := newTestSessions(t)

	first, cookie := roundTrip(t, sm, nil, func(s *Session) {
		s.SetUser("42")
		s.Set(LoginRedirectKey, "/review")
		s.AddFlash(FlashMessage{Kind: "info", Message: "hello"})
	})
	require.True(t, strings.HasPrefix(cookie.Value, first.ID+"."))
	require.True(t, cookie.HttpOnly)
	require.Equal(t, http.SameSiteStrictMode, cookie.SameSite)

	second, _ := roundTrip(t, sm, cookie, nil)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "42", second.User())
	require.Equal(t, "/review", second.Get(LoginRedirectKey))
	flash := second.PopFlash()
	require.NotNil(t, flash)
	require.Equal(t, "hello", flash.Message)
}

func TestSessionRejectsTamperedCookie(t *testing.T) {
	sm, _ := newTestSessions(t)
	first, cookie := roundTrip(t, sm, nil, func(s *Session) { s.SetUser("42") })

	forged := &http.Cookie{Name: cookie.Name, Value: first.ID + ".bm90LWEtc2lnbmF0dXJl"}
	second, _ := roundTrip(t, sm, forged, nil)
	require.NotEqual(t, first.ID, second.ID)
	require.Empty(t, second.User())

	bare := &http.Cookie{Name: cookie.Name, Value: first.ID}
	third, _ := roundTrip(t, sm, bare, nil)
	require.NotEqual(t, first.ID, third.ID)
}

func TestSessionExpiredIDIsNotReused(t *testing.T) {
	sm, mr := newTestSessions(t)
	first, cookie := roundTrip(t, sm, nil, nil)

	mr.FastForward(2 * time.Hour)

	second, _ := roundTrip(t, sm, cookie, nil)
	require.NotEqual(t, first.ID, second.ID)
}

func TestSessionDestroy(t *testing.T) {
	sm, mr := newTestSessions(t)
	first, cookie := roundTrip(t, sm, nil, func(s *Session) { s.SetUser("1") })
	require.True(t, mr.Exists(sm.key(first.ID)))

	_, cleared := roundTrip(t, sm, cookie, func(s *Session) { sm.Destroy(s) })
	require.Empty(t, cleared.Value)
	require.Negative(t, cleared.MaxAge)
	require.False(t, mr.Exists(sm.key(first.ID)))
}

func TestCSRFToken(t *testing.T) {
	m := NewCSRFManager("csrf")
	sess := newSession("abc")

	token, err := m.EnsureToken(sess)
	require.NoError(t, err)
	again, err := m.EnsureToken(sess)
	require.NoError(t, err)
	require.Equal(t, token, again)

	require.NoError(t, m.VerifyToken(sess, token))
	require.ErrorIs(t, m.VerifyToken(sess, "nope"), ErrCSRFTokenMismatch)
	require.ErrorIs(t, m.VerifyToken(sess, ""), ErrCSRFTokenMissing)
	require.ErrorIs(t, m.VerifyToken(newSession("other"), token), ErrCSRFTokenMissing)

	_, err = m.EnsureToken(nil)
	require.Error(t, err)
}

func TestSessionIDFromContext(t *testing.T) {
	require.Empty(t, SessionID(context.Background()))
	sess := newSession("xyz")
	require.Equal(t, "xyz", SessionID(ContextWithSession(context.Background(), sess)))
}
