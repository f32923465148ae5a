package github

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func contentsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/o/r/contents/Scanners/Movies/x.py", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"name":"x.py","path":"Scanners/Movies/x.py","type":"file","download_url":"https://raw/x.py"}`))
	})
	mux.HandleFunc("/repos/o/r/contents/Scanners", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"name":"Movies","path":"Scanners/Movies","type":"dir"}]`))
	})
	mux.HandleFunc("/repos/o/r/contents", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"name":"Contents","path":"Contents","type":"dir"},{"name":"README.md","path":"README.md","type":"file"}]`))
	})
	mux.HandleFunc("/repos/o/r/pages", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/repos/o/site/pages", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"html_url":"https://o.github.io/site/"}`))
	})
	mux.HandleFunc("/repos/o/r/commits/abc", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"sha":"abc","commit":{"author":{"date":"2024-05-06T07:08:09Z"}}}`))
	})
	mux.HandleFunc("/rate_limit", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"rate":{"limit":60,"remaining":59,"reset":1700000000},"resources":{"core":{"limit":60,"remaining":59,"reset":1700000000}}}`))
	})
	return mux
}

func TestContentsListsDirectories(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, contentsMux(), nil)
	repo := Repo{Owner: "o", Name: "r"}

	root, err := client.Contents(context.Background(), repo, "")
	require.NoError(t, err)
	require.Len(t, root, 2)
	require.Equal(t, ContentDir, root[0].Type)

	_, err = client.Contents(context.Background(), repo, "Scanners/Movies/x.py")
	require.Error(t, err)

	_, err = client.Contents(context.Background(), repo, "Missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStatDistinguishesFilesAndDirectories(t *testing.T) {
	t.Parallel()

	client, clk := newTestClient(t, contentsMux(), nil)
	repo := Repo{Owner: "o", Name: "r"}

	file, err := client.Stat(context.Background(), repo, "Scanners/Movies/x.py")
	require.NoError(t, err)
	require.Equal(t, ContentFile, file.Type)

	dir, err := client.Stat(context.Background(), repo, "/Scanners/")
	require.NoError(t, err)
	require.Equal(t, ContentDir, dir.Type)
	require.Equal(t, "Scanners", dir.Name)

	_, err = client.Stat(context.Background(), repo, "Scanners/Movies/missing.py")
	require.ErrorIs(t, err, ErrNotFound)
	require.Empty(t, clk.Sleeps())
}

func TestPagesNotFound(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, contentsMux(), nil)

	_, err := client.Pages(context.Background(), Repo{Owner: "o", Name: "r"})
	require.ErrorIs(t, err, ErrNotFound)

	pages, err := client.Pages(context.Background(), Repo{Owner: "o", Name: "site"})
	require.NoError(t, err)
	require.Equal(t, "https://o.github.io/site/", pages.HTMLURL)
}

func TestCommitAndRateLimit(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, contentsMux(), nil)

	commit, err := client.Commit(context.Background(), Repo{Owner: "o", Name: "r"}, "abc")
	require.NoError(t, err)
	require.Equal(t, "2024-05-06T07:08:09Z", commit.AuthorDate())
	require.Equal(t, "", Commit{}.AuthorDate())

	status, err := client.RateLimit(context.Background())
	require.NoError(t, err)
	require.Equal(t, 59, status.Resources[PoolCore].Remaining)
}

func TestIssueIsPullRequest(t *testing.T) {
	t.Parallel()

	require.True(t, Issue{PullRequest: []byte(`{"url":"x"}`)}.IsPullRequest())
	require.False(t, Issue{}.IsPullRequest())
	require.False(t, Issue{PullRequest: []byte(`null`)}.IsPullRequest())
}

func TestEscapePath(t *testing.T) {
	t.Parallel()

	require.Equal(t, "", escapePath(""))
	require.Equal(t, "", escapePath("/"))
	require.Equal(t, "/Contents/Resources", escapePath("/Contents/Resources/"))
	require.Equal(t, "/a%20b/c%3Fd", escapePath("a b/c?d"))
}
