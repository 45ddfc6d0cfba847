package batch_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/rendercove/prerender/internal/batch"
	"github.com/rendercove/prerender/internal/common/config"
	"github.com/rendercove/prerender/pkg/types"
)

const sitemapNS = "http://www.sitemaps.org/schemas/sitemap/0.9"

func urlsetXML(locs ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<?xml version="1.0" encoding="UTF-8"?><urlset xmlns=%q>`, sitemapNS)
	for _, loc := range locs {
		fmt.Fprintf(&b, "<url><loc>%s</loc></url>", loc)
	}
	b.WriteString("</urlset>")
	return b.String()
}

func indexXML(locs ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<?xml version="1.0" encoding="UTF-8"?><sitemapindex xmlns=%q>`, sitemapNS)
	for _, loc := range locs {
		fmt.Fprintf(&b, "<sitemap><loc>%s</loc></sitemap>", loc)
	}
	b.WriteString("</sitemapindex>")
	return b.String()
}

func newFetcher(maxURLs int) *batch.SitemapFetcher {
	cfg := &config.BatchConfig{
		CheckpointEvery: 10,
		SitemapTimeout:  types.Duration(5 * time.Second),
		MaxSitemapDepth: 3,
		MaxURLs:         maxURLs,
	}
	return batch.NewSitemapFetcher(cfg, zap.NewNop())
}

var _ = Describe("SitemapFetcher", func() {
	var (
		mux *http.ServeMux
		srv *httptest.Server
	)

	BeforeEach(func() {
		mux = http.NewServeMux()
		srv = httptest.NewServer(mux)
	})

	AfterEach(func() {
		srv.Close()
	})

	serve := func(path, body string) {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/xml")
			fmt.Fprint(w, body)
		})
	}

	It("extracts page URLs from a plain sitemap in document order", func() {
		serve("/sitemap.xml", urlsetXML(
			"http://example.com/",
			"http://example.com/about",
			"http://example.com/contact",
		))

		urls, err := newFetcher(1000).Fetch(srv.URL + "/sitemap.xml")
		Expect(err).NotTo(HaveOccurred())
		Expect(urls).To(Equal([]string{
			"http://example.com/",
			"http://example.com/about",
			"http://example.com/contact",
		}))
	})

	It("expands a sitemap index across its children", func() {
		serve("/index.xml", indexXML(srv.URL+"/a.xml", srv.URL+"/b.xml"))
		serve("/a.xml", urlsetXML("http://example.com/1", "http://example.com/2"))
		serve("/b.xml", urlsetXML("http://example.com/3"))

		urls, err := newFetcher(1000).Fetch(srv.URL + "/index.xml")
		Expect(err).NotTo(HaveOccurred())
		Expect(urls).To(Equal([]string{
			"http://example.com/1",
			"http://example.com/2",
			"http://example.com/3",
		}))
	})

	It("skips a sitemap that references itself", func() {
		serve("/cycle.xml", indexXML(srv.URL+"/cycle.xml", srv.URL+"/a.xml"))
		serve("/a.xml", urlsetXML("http://example.com/1", "http://example.com/2"))

		urls, err := newFetcher(1000).Fetch(srv.URL + "/cycle.xml")
		Expect(err).NotTo(HaveOccurred())
		Expect(urls).To(Equal([]string{
			"http://example.com/1",
			"http://example.com/2",
		}))
	})

	It("fetches a repeated child sitemap only once", func() {
		serve("/index.xml", indexXML(srv.URL+"/a.xml", srv.URL+"/a.xml"))
		serve("/a.xml", urlsetXML("http://example.com/1"))

		urls, err := newFetcher(1000).Fetch(srv.URL + "/index.xml")
		Expect(err).NotTo(HaveOccurred())
		Expect(urls).To(Equal([]string{"http://example.com/1"}))
	})

	It("collects URLs from indexes nested up to the depth limit", func() {
		serve("/ok1.xml", indexXML(srv.URL+"/ok2.xml"))
		serve("/ok2.xml", indexXML(srv.URL+"/ok3.xml"))
		serve("/ok3.xml", urlsetXML("http://example.com/deep", "http://example.com/deeper"))

		urls, err := newFetcher(1000).Fetch(srv.URL + "/ok1.xml")
		Expect(err).NotTo(HaveOccurred())
		Expect(urls).To(HaveLen(2))
	})

	It("stops recursing past the depth limit", func() {
		serve("/deep1.xml", indexXML(srv.URL+"/deep2.xml"))
		serve("/deep2.xml", indexXML(srv.URL+"/deep3.xml"))
		serve("/deep3.xml", indexXML(srv.URL+"/deep4.xml"))
		serve("/deep4.xml", urlsetXML("http://example.com/unreachable"))

		urls, err := newFetcher(1000).Fetch(srv.URL + "/deep1.xml")
		Expect(err).NotTo(HaveOccurred())
		Expect(urls).To(BeEmpty())
	})

	It("keeps going when a child sitemap cannot be fetched", func() {
		serve("/index.xml", indexXML(srv.URL+"/missing.xml", srv.URL+"/b.xml"))
		serve("/b.xml", urlsetXML("http://example.com/3"))

		urls, err := newFetcher(1000).Fetch(srv.URL + "/index.xml")
		Expect(err).NotTo(HaveOccurred())
		Expect(urls).To(Equal([]string{"http://example.com/3"}))
	})

	It("caps the number of collected URLs", func() {
		serve("/sitemap.xml", urlsetXML(
			"http://example.com/1",
			"http://example.com/2",
			"http://example.com/3",
		))

		urls, err := newFetcher(2).Fetch(srv.URL + "/sitemap.xml")
		Expect(err).NotTo(HaveOccurred())
		Expect(urls).To(HaveLen(2))
	})

	It("trims whitespace inside loc elements and drops empty ones", func() {
		serve("/sitemap.xml", `<?xml version="1.0"?>`+
			`<urlset xmlns="`+sitemapNS+`">`+
			"<url><loc>\n  http://example.com/padded\n</loc></url>"+
			"<url><loc></loc></url>"+
			"</urlset>")

		urls, err := newFetcher(1000).Fetch(srv.URL + "/sitemap.xml")
		Expect(err).NotTo(HaveOccurred())
		Expect(urls).To(Equal([]string{"http://example.com/padded"}))
	})

	It("ignores elements outside the sitemaps namespace", func() {
		serve("/plain.xml", `<urlset><url><loc>http://example.com/x</loc></url></urlset>`)

		urls, err := newFetcher(1000).Fetch(srv.URL + "/plain.xml")
		Expect(err).NotTo(HaveOccurred())
		Expect(urls).To(BeEmpty())
	})

	It("fails when the top-level sitemap returns a non-200", func() {
		_, err := newFetcher(1000).Fetch(srv.URL + "/missing.xml")
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("404"))
	})

	It("fails when the top-level sitemap is not XML", func() {
		serve("/broken.xml", "this is not xml at all {{{")

		_, err := newFetcher(1000).Fetch(srv.URL + "/broken.xml")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("ParseURLList", func() {
	It("keeps trimmed http and https lines", func() {
		text := "  http://example.com/a  \n" +
			"\n" +
			"https://example.com/b\n" +
			"not-a-url\n" +
			"ftp://example.com/c\n" +
			"\thttp://example.com/d\n"

		Expect(batch.ParseURLList(text)).To(Equal([]string{
			"http://example.com/a",
			"https://example.com/b",
			"http://example.com/d",
		}))
	})

	It("returns nothing for empty input", func() {
		Expect(batch.ParseURLList("")).To(BeEmpty())
		Expect(batch.ParseURLList("\n\n  \n")).To(BeEmpty())
	})
})
