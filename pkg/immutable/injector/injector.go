// Package injector stamps every HTML document of an output tree with the
// verifier/loader script and the canonical digest that script checks at
// runtime. Every script element is pinned with an integrity attribute and
// listed as an allowed CSP source.
package injector

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"runtime"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
	"github.com/tidwall/jsonc"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/sync/errgroup"

	"github.com/jamesainslie/immutable/pkg/immutable/digest"
	"github.com/jamesainslie/immutable/pkg/immutable/document"
	"github.com/jamesainslie/immutable/pkg/immutable/fsutil"
	"github.com/jamesainslie/immutable/pkg/immutable/logging"
	"github.com/jamesainslie/immutable/pkg/immutable/manifest"
	"github.com/jamesainslie/immutable/pkg/immutable/template"
	"github.com/jamesainslie/immutable/pkg/immutable/walk"
)

// MarkerAttr flags the injected loader element. Pages that already carry
// it are left untouched.
const MarkerAttr = document.LoaderMarker

// DefaultWebmanifest is the webapp manifest embedded into the loader.
const DefaultWebmanifest = "/manifest.json"

// Page is the outcome of injecting one document.
type Page struct {
	// Path is the public root-relative path of the document.
	Path string `json:"path" yaml:"path"`

	// Hash is the canonical hex digest embedded in the document.
	Hash string `json:"hash" yaml:"hash"`

	// Sources are the CSP source expressions of the document's scripts.
	Sources []string `json:"sources" yaml:"sources"`

	// LoaderSRI is the integrity of the resolved loader script. An
	// embedding parent pins it as the frame's own script source.
	LoaderSRI string `json:"loader_sri" yaml:"loader_sri"`

	// Hidden is the path of the hidden original, if one was written.
	Hidden string `json:"hidden,omitempty" yaml:"hidden,omitempty"`

	// Skipped is set when the document already carried a loader.
	Skipped bool `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}

// Options configures an Injector.
type Options struct {
	// Root is the output tree.
	Root string

	// Loader is the verifier/loader template. Defaults to DefaultLoader().
	Loader *template.Template

	// Webmanifest is the root-relative path of the webapp manifest.
	// Defaults to DefaultWebmanifest. A missing file leaves the slot empty.
	Webmanifest string

	// HiddenOriginals moves each page to a hidden name and writes a
	// loader shell at its public path.
	HiddenOriginals bool

	// HiddenPrefix names hidden originals.
	HiddenPrefix string

	// CheckLoader compiles every resolved loader before injecting it.
	CheckLoader bool

	// Concurrency bounds the number of documents processed at once.
	Concurrency int
}

// Injector rewrites the documents of one output tree.
type Injector struct {
	opts        Options
	loader      *template.Template
	manifestURL string
	log         *logging.Logger
}

// New validates the loader template and reads the webapp manifest.
func New(opts Options) (*Injector, error) {
	if opts.Root == "" {
		return nil, errors.New("injector: root is required")
	}
	if opts.Loader == nil {
		opts.Loader = DefaultLoader()
	}
	if opts.Webmanifest == "" {
		opts.Webmanifest = DefaultWebmanifest
	}
	if opts.HiddenPrefix == "" {
		opts.HiddenPrefix = manifest.DefaultHiddenPrefix
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.GOMAXPROCS(0)
	}

	if err := opts.Loader.Require(template.Sources, template.Hash); err != nil {
		return nil, err
	}

	manifestURL, err := webmanifestURL(walk.Abs(opts.Root, opts.Webmanifest))
	if err != nil {
		return nil, err
	}

	return &Injector{
		opts:        opts,
		loader:      opts.Loader,
		manifestURL: manifestURL,
		log:         logging.Get("injector"),
	}, nil
}

// Run injects every HTML document in the tree. Hidden originals from a
// previous run are never touched.
func (in *Injector) Run(ctx context.Context) ([]Page, error) {
	files, err := walk.Walk(ctx, walk.Options{
		Root: in.opts.Root,
		Skip: func(rel string, isDir bool) bool {
			return !isDir && strings.HasPrefix(path.Base(rel), in.opts.HiddenPrefix)
		},
	})
	if err != nil {
		return nil, err
	}

	var docs []string
	for _, f := range files {
		if isDocument(f.Path) {
			docs = append(docs, f.Path)
		}
	}

	pages := make([]Page, len(docs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(in.opts.Concurrency)
	for i, rel := range docs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			page, err := in.InjectFile(rel)
			if err != nil {
				return err
			}
			pages[i] = page
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	in.log.Info("injected documents", "count", len(pages), "root", in.opts.Root)
	return pages, nil
}

// InjectFile injects the document at the root-relative path rel and
// writes the result in place.
func (in *Injector) InjectFile(rel string) (Page, error) {
	abs := walk.Abs(in.opts.Root, rel)
	original, err := os.ReadFile(abs)
	if err != nil {
		return Page{}, err
	}

	source := original
	if in.opts.HiddenOriginals {
		done, err := injected(original)
		if err != nil {
			return Page{}, fmt.Errorf("parse %s: %w", rel, err)
		}
		if done {
			return Page{Path: rel, Skipped: true}, nil
		}
		source = []byte(shellDocument)
	}

	out, page, err := in.Inject(rel, source)
	if err != nil {
		return Page{}, err
	}
	if page.Skipped {
		in.log.Debug("document already injected", "path", rel)
		return page, nil
	}

	if in.opts.HiddenOriginals {
		hidden := manifest.HiddenName(rel, in.opts.HiddenPrefix)
		if err := fsutil.WriteFile(walk.Abs(in.opts.Root, hidden), original, 0o644); err != nil {
			return Page{}, fmt.Errorf("write hidden original: %w", err)
		}
		page.Hidden = hidden
	}

	if err := fsutil.WriteFile(abs, out, 0o644); err != nil {
		return Page{}, fmt.Errorf("write %s: %w", rel, err)
	}

	in.log.Debug("injected document", "path", rel, "hash", page.Hash, "scripts", len(page.Sources))
	return page, nil
}

// Inject transforms one document. rel is its root-relative path, used to
// resolve external script references against the tree.
func (in *Injector) Inject(rel string, src []byte) ([]byte, Page, error) {
	page := Page{Path: rel}

	root, err := document.Parse(src)
	if err != nil {
		return nil, page, fmt.Errorf("parse %s: %w", rel, err)
	}
	doc := goquery.NewDocumentFromNode(root)

	if doc.Find("script["+MarkerAttr+"]").Length() > 0 {
		page.Skipped = true
		return src, page, nil
	}

	// Pin every script before the loader joins the document.
	var pinErr error
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var body []byte
		if src, ok := s.Attr("src"); ok {
			body, pinErr = in.readScript(rel, src)
			if pinErr != nil {
				return false
			}
		} else {
			body = []byte(s.Text())
		}

		s.SetAttr("integrity", digest.SRI(body))
		page.Sources = append(page.Sources, digest.Source(body))
		return true
	})
	if pinErr != nil {
		return nil, page, pinErr
	}

	// Pass 1: sources and manifest.
	loader := in.loader.ResolveOptional(template.Values{
		template.Sources:  strings.Join(page.Sources, " "),
		template.Manifest: in.manifestURL,
	})

	if in.opts.CheckLoader {
		if err := checkSyntax(loader.Name(), loader.ResolveOptional(template.Values{template.Hash: digest.Dummy}).String()); err != nil {
			return nil, page, err
		}
	}

	head := doc.Find("head").First()
	if head.Length() == 0 {
		return nil, page, fmt.Errorf("%s: document has no head", rel)
	}
	headNode := head.Get(0)
	headNode.InsertBefore(loaderNode(loader.String()), headNode.FirstChild)

	serialized, err := document.Serialize(root)
	if err != nil {
		return nil, page, fmt.Errorf("serialize %s: %w", rel, err)
	}

	// Pass 2a: hash the document with the dummy standing in for the hash.
	rendered := template.New(rel, serialized)
	dummy, err := rendered.Resolve(template.Values{template.Hash: digest.Dummy})
	if err != nil {
		return nil, page, err
	}
	page.Hash = digest.CanonicalHex(dummy.String())

	// Pass 2b: splice the real hash into the actual serialization.
	final, err := rendered.Resolve(template.Values{template.Hash: page.Hash})
	if err != nil {
		return nil, page, err
	}
	page.LoaderSRI = digest.SRI([]byte(loader.ResolveOptional(template.Values{template.Hash: page.Hash}).String()))

	return []byte(final.String()), page, nil
}

// readScript returns the bytes of an external script referenced from rel.
// Only references into the tree can be pinned.
func (in *Injector) readScript(rel, src string) ([]byte, error) {
	u, err := url.Parse(src)
	if err != nil {
		return nil, &ScriptError{Page: rel, Src: src, Err: err}
	}
	if u.Scheme != "" || u.Host != "" {
		return nil, &ScriptError{Page: rel, Src: src, Err: ErrUnpinnable}
	}

	target := u.Path
	if !strings.HasPrefix(target, "/") {
		target = path.Join(path.Dir(rel), target)
	}

	body, err := os.ReadFile(walk.Abs(in.opts.Root, target))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &ScriptError{Page: rel, Src: src, Err: fmt.Errorf("%w: %s not in output tree", ErrUnpinnable, target)}
		}
		return nil, &ScriptError{Page: rel, Src: src, Err: err}
	}
	return body, nil
}

// injected reports whether the document already carries a loader.
func injected(src []byte) (bool, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(src))
	if err != nil {
		return false, err
	}
	return doc.Find("script["+MarkerAttr+"]").Length() > 0, nil
}

func loaderNode(text string) *html.Node {
	n := &html.Node{
		Type:     html.ElementNode,
		Data:     "script",
		DataAtom: atom.Script,
		Attr: []html.Attribute{
			{Key: "type", Val: "module"},
			{Key: MarkerAttr, Val: ""},
		},
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	return n
}

// checkSyntax compiles src without running it.
func checkSyntax(name, src string) error {
	if _, err := goja.Compile(name, src, false); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrLoaderSyntax, name, err)
	}
	return nil
}

// webmanifestURL returns the webapp manifest at p as a JSON data URL.
// Comments and trailing commas are accepted.
func webmanifestURL(p string) (string, error) {
	raw, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read webapp manifest: %w", err)
	}

	data := jsonc.ToJSON(raw)
	if !json.Valid(data) {
		return "", fmt.Errorf("webapp manifest %s is not valid JSON", p)
	}

	return "data:application/json;base64," + base64.StdEncoding.EncodeToString(data), nil
}

func isDocument(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	return ext == ".html" || ext == ".htm"
}
