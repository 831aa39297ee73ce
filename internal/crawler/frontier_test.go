package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"
)

func testSettings() Settings {
	return Settings{
		UserAgent:        "test-agent",
		Mode:             "breadth",
		MaxProbesPerPage: 25,
		RespectRobots:    true,
	}
}

func newCrawlSite(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprintf(w, `<html><body>
				<a href="/docs/motor-pds.pdf">Motor PDS</a>
				<a href="/about">About</a>
				<a href="https://offsite.example/travel-policy.pdf">Travel policy</a>
				<a href="/download/42">Download PDF</a>
			</body></html>`)
		case "/about":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprintf(w, `<html><body>
				<a href="/docs/home-wording.pdf">Home wording</a>
				<object data="/docs/embedded-fact-sheet.pdf"></object>
			</body></html>`)
		case "/download/42":
			w.Header().Set("Content-Type", "application/pdf")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	return srv
}

func TestDomainCrawlerDiscoversPDFs(t *testing.T) {
	srv := newCrawlSite(t)
	defer srv.Close()

	crawler := NewDomainCrawler(srv.Client(),
		NewRobotsCache(srv.Client(), "test-agent", true, nil),
		testSettings(), nil, nil)

	found, pages := crawler.Crawl(context.Background(), srv.URL+"/", 10, time.Time{},
		nil, nil, make(map[string]struct{}))

	if pages != 2 {
		t.Fatalf("pages = %d, want 2 (index and about)", pages)
	}
	sort.Strings(found)
	want := []string{
		srv.URL + "/docs/embedded-fact-sheet.pdf",
		srv.URL + "/docs/home-wording.pdf",
		srv.URL + "/docs/motor-pds.pdf",
		srv.URL + "/download/42",
		"https://offsite.example/travel-policy.pdf",
	}
	sort.Strings(want)
	if len(found) != len(want) {
		t.Fatalf("found %d PDFs %v, want %d", len(found), found, len(want))
	}
	for i := range want {
		if found[i] != want[i] {
			t.Fatalf("found[%d] = %q, want %q", i, found[i], want[i])
		}
	}
}

func TestDomainCrawlerDirectPDFSeed(t *testing.T) {
	crawler := NewDomainCrawler(http.DefaultClient, nil, testSettings(), nil, nil)
	found, pages := crawler.Crawl(context.Background(),
		"https://example.com/docs/motor-pds.pdf", 10, time.Time{}, nil, nil, nil)

	if pages != 1 {
		t.Fatalf("pages = %d, want 1", pages)
	}
	if len(found) != 1 || found[0] != "https://example.com/docs/motor-pds.pdf" {
		t.Fatalf("found = %v", found)
	}
}

func TestDomainCrawlerRespectsRobots(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			fmt.Fprint(w, "User-agent: *\nDisallow: /\n")
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><a href="/x.pdf">x</a></html>`)
	}))
	defer srv.Close()

	crawler := NewDomainCrawler(srv.Client(),
		NewRobotsCache(srv.Client(), "test-agent", true, nil),
		testSettings(), nil, nil)

	found, pages := crawler.Crawl(context.Background(), srv.URL+"/", 10, time.Time{},
		nil, nil, make(map[string]struct{}))
	if pages != 0 || len(found) != 0 {
		t.Fatalf("robots-denied crawl fetched pages=%d found=%v", pages, found)
	}
}

func TestDomainCrawlerHonorsPageBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		// Every page links three more pages; the budget must stop the walk.
		for i := 0; i < 3; i++ {
			fmt.Fprintf(w, `<a href="%s-%d">next</a>`, r.URL.Path, i)
		}
	}))
	defer srv.Close()

	crawler := NewDomainCrawler(srv.Client(),
		NewRobotsCache(srv.Client(), "test-agent", true, nil),
		testSettings(), nil, nil)

	_, pages := crawler.Crawl(context.Background(), srv.URL+"/p", 4, time.Time{},
		nil, nil, make(map[string]struct{}))
	if pages != 4 {
		t.Fatalf("pages = %d, want exactly the budget of 4", pages)
	}
}

func TestDomainCrawlerDeadline(t *testing.T) {
	srv := newCrawlSite(t)
	defer srv.Close()

	clock := newFakeClock(time.Unix(1700000000, 0).UTC())
	crawler := NewDomainCrawler(srv.Client(),
		NewRobotsCache(srv.Client(), "test-agent", true, nil),
		testSettings(), clock, nil)

	deadline := clock.Now().Add(-time.Second)
	_, pages := crawler.Crawl(context.Background(), srv.URL+"/", 10, deadline,
		nil, nil, make(map[string]struct{}))
	if pages != 0 {
		t.Fatalf("expired deadline should stop before any fetch, got %d pages", pages)
	}
}
