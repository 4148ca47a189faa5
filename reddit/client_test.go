package reddit

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient points a Client at a local server handling both the token
// endpoint and the API paths registered on mux.
func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	mux.HandleFunc("POST /api/v1/access_token", func(w http.ResponseWriter, r *http.Request) {
		username, _, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "client-id", username)
		fmt.Fprint(w, `{"access_token": "test-token", "expires_in": 3600}`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return &Client{
		Host:     server.URL,
		AuthHost: server.URL,
		Client:   &http.Client{},
		Credentials: Credentials{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			Username:     "porterbot",
			Password:     "hunter2",
		},
		UserAgent: "porter test",
	}
}

func TestClientAccount(t *testing.T) {
	assert := assert.New(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /user/bob/about", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal("Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal("porter test", r.Header.Get("User-Agent"))
		fmt.Fprint(w, `{"kind": "t2", "data": {"name": "bob", "created_utc": 1700000000.0}}`)
	})
	client := newTestClient(t, mux)

	acct, err := client.Account(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal("bob", acct.Name)
	assert.False(acct.IsSuspended)
	assert.Equal(int64(1700000000), acct.Created().Unix())
}

func TestClientAccountNotFound(t *testing.T) {
	assert := assert.New(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /user/ghost/about", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	client := newTestClient(t, mux)

	_, err := client.Account(context.Background(), "ghost")
	assert.ErrorIs(err, ErrNotFound)
}

func TestClientAccountSuspended(t *testing.T) {
	assert := assert.New(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /user/banned/about", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"kind": "t2", "data": {"name": "banned", "is_suspended": true}}`)
	})
	client := newTestClient(t, mux)

	acct, err := client.Account(context.Background(), "banned")
	require.NoError(t, err)
	assert.True(acct.IsSuspended)
}

func TestClientCommentsPagination(t *testing.T) {
	assert := assert.New(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /user/bob/comments", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("after") == "" {
			fmt.Fprint(w, `{"data": {"after": "t1_2", "children": [
				{"kind": "t1", "data": {"id": "1", "subreddit": "gardening", "score": 3, "created_utc": 1700000300.0}},
				{"kind": "t1", "data": {"id": "2", "subreddit": "golang", "score": 1, "created_utc": 1700000200.0}}
			]}}`)
			return
		}
		assert.Equal("t1_2", r.URL.Query().Get("after"))
		fmt.Fprint(w, `{"data": {"after": "", "children": [
			{"kind": "t1", "data": {"id": "3", "subreddit": "gardening", "score": 2, "created_utc": 1700000100.0}}
		]}}`)
	})
	client := newTestClient(t, mux)

	comments, err := client.Comments(context.Background(), "bob", 10)
	require.NoError(t, err)
	require.Len(t, comments, 3)
	assert.Equal("1", comments[0].ID)
	assert.Equal("3", comments[2].ID)
}

func TestClientCommentsLimit(t *testing.T) {
	assert := assert.New(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /user/bob/comments", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": {"after": "t1_x", "children": [
			{"kind": "t1", "data": {"id": "1"}},
			{"kind": "t1", "data": {"id": "2"}},
			{"kind": "t1", "data": {"id": "3"}}
		]}}`)
	})
	client := newTestClient(t, mux)

	comments, err := client.Comments(context.Background(), "bob", 2)
	require.NoError(t, err)
	assert.Len(comments, 2)
}

func TestClientModNotesPagination(t *testing.T) {
	assert := assert.New(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/mod/notes", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal("gardening", r.URL.Query().Get("subreddit"))
		assert.Equal("bob", r.URL.Query().Get("user"))
		if r.URL.Query().Get("before") == "" {
			fmt.Fprint(w, `{"mod_notes": [{"type": "BAN"}, {"type": "APPROVAL"}], "end_cursor": "abc", "has_next_page": true}`)
			return
		}
		fmt.Fprint(w, `{"mod_notes": [{"type": "MUTE"}], "end_cursor": "", "has_next_page": false}`)
	})
	client := newTestClient(t, mux)

	notes, err := client.ModNotes(context.Background(), "gardening", "bob")
	require.NoError(t, err)
	require.Len(t, notes, 3)
	assert.Equal("BAN", notes[0].Type)
	assert.Equal("MUTE", notes[2].Type)
}

func TestClientAddContributorRateLimited(t *testing.T) {
	assert := assert.New(t)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /r/gardening/api/friend", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal("bob", r.PostForm.Get("name"))
		assert.Equal("contributor", r.PostForm.Get("type"))
		fmt.Fprint(w, `{"json": {"errors": [["SUBREDDIT_RATELIMIT", "you are doing that too much", "name"]]}}`)
	})
	client := newTestClient(t, mux)

	err := client.AddContributor(context.Background(), "gardening", "bob")
	assert.ErrorIs(err, ErrRateLimited)
}

func TestClientAddContributorSuccess(t *testing.T) {
	assert := assert.New(t)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /r/gardening/api/friend", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"json": {"errors": []}}`)
	})
	client := newTestClient(t, mux)

	assert.NoError(client.AddContributor(context.Background(), "gardening", "bob"))
}

func TestClientContributorsPagination(t *testing.T) {
	assert := assert.New(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /r/gardening/about/contributors", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal("100", r.URL.Query().Get("limit"))
		if r.URL.Query().Get("after") == "" {
			fmt.Fprint(w, `{"kind": "UserList", "data": {"after": "rb_2", "children": [
				{"name": "alice"},
				{"name": "bob"}
			]}}`)
			return
		}
		assert.Equal("rb_2", r.URL.Query().Get("after"))
		fmt.Fprint(w, `{"kind": "UserList", "data": {"after": "", "children": [
			{"name": "carol"}
		]}}`)
	})
	client := newTestClient(t, mux)

	names, err := client.Contributors(context.Background(), "gardening")
	require.NoError(t, err)
	assert.Equal([]string{"alice", "bob", "carol"}, names)
}

func TestClientModmailConversationsOrder(t *testing.T) {
	assert := assert.New(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/mod/conversations", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"conversationIds": ["b", "a"],
			"conversations": {
				"a": {"id": "a", "numMessages": 2, "authors": [{"name": "bob"}]},
				"b": {"id": "b", "numMessages": 1, "authors": [{"name": "alice"}, {"name": "porterbot"}]}
			}
		}`)
	})
	client := newTestClient(t, mux)

	conversations, err := client.ModmailConversations(context.Background(), "gardening", "all")
	require.NoError(t, err)
	require.Len(t, conversations, 2)
	assert.Equal("b", conversations[0].ID)
	assert.True(conversations[0].HasAuthor("porterbot"))
	assert.Equal("a", conversations[1].ID)
}

func TestClientTokenReuse(t *testing.T) {
	assert := assert.New(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/me", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"name": "porterbot"}`)
	})
	client := newTestClient(t, mux)

	ctx := context.Background()
	me, err := client.Me(ctx)
	require.NoError(t, err)
	assert.Equal("porterbot", me.Name)

	// second call reuses the cached token rather than re-authenticating
	firstExpiry := client.tokenExpiry
	_, err = client.Me(ctx)
	require.NoError(t, err)
	assert.Equal(firstExpiry, client.tokenExpiry)
}
