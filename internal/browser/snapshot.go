package browser

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/go-rod/rod"
	"github.com/microcosm-cc/bluemonday"
)

// aiMarkdownConverter renders the ai snapshot format's role tree as nested
// markdown. A single converter is reused across snapshots; it carries no
// per-call state.
var aiMarkdownConverter = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
	),
)

// aiTextSanitizer strips markup from SUT-controlled element text before it
// is folded into the ai snapshot format, since that text flows directly
// into a VLM prompt and the page that produced it is untrusted input.
var aiTextSanitizer = bluemonday.StrictPolicy()

// ElementMeta describes one addressable element captured in a snapshot.
// RefID is the handle callers use for targeted actions; it is derived from
// the element's position in a fixed-order BFS, so it is stable within one
// DOM generation but reassigned on every walk. DOMRef is the marker that
// persists across walks.
type ElementMeta struct {
	RefID       string            `json:"ref_id"`
	TabID       string            `json:"tab_id"`
	FrameID     string            `json:"frame_id"`
	DOMRef      string            `json:"dom_ref"`
	TagName     string            `json:"tag_name"`
	Role        string            `json:"role,omitempty"`
	Name        string            `json:"name,omitempty"`
	Value       string            `json:"value,omitempty"`
	Checked     *bool             `json:"checked,omitempty"`
	Disabled    bool              `json:"disabled,omitempty"`
	Visible     bool              `json:"visible"`
	BoundingBox *BoundingBox      `json:"bounding_box,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// BoundingBox is the element's viewport-relative rectangle at capture time.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Snapshot is one immutable capture of a session's accessible DOM surface.
// Snapshots are cached per session (bounded, oldest evicted first) so that
// actions can be resolved against the snapshot the caller actually saw.
type Snapshot struct {
	ID       string                 `json:"snapshot_id"`
	Epoch    int64                  `json:"epoch"`
	URL      string                 `json:"url"`
	Title    string                 `json:"title"`
	DOMHash  string                 `json:"dom_hash"`
	Elements []ElementMeta          `json:"elements"`
	ByRef    map[string]*ElementMeta `json:"-"`
	Truncated bool                  `json:"truncated"`
}

// ElementByRef looks up an element within the snapshot by its ref_id.
func (s *Snapshot) ElementByRef(ref string) (*ElementMeta, bool) {
	if s == nil {
		return nil, false
	}
	e, ok := s.ByRef[ref]
	return e, ok
}

// walkScript enumerates interactive/semantically meaningful elements across
// the document, same-origin iframes, and open shadow roots via breadth-first
// traversal, stamping each with two attribute markers so a later locator
// resolution can find it by attribute selector rather than by re-running the
// walk: data-gaia-ref holds the current ref_id (overwritten every walk) and
// data-gaia-dom-ref holds a persistent identity marker (stamped once,
// reused across walks). Traversal order is deterministic (breadth-first
// within each document, iframes visited in document order) so ref_id assignment is reproducible
// across calls against the same DOM generation.
const walkScript = `
function gaiaWalk(cap) {
  const out = [];
  let refCounter = 0;
  const markerAttr = 'data-gaia-dom-ref';
  const refAttr = 'data-gaia-ref';

  // domRefFor returns the element's persistent marker, minting one only the
  // first time an element is seen. The sequence lives on the owning window
  // (not in this function's closure, which is rebuilt on every call) so the
  // identifier survives across snapshots even though ref_id is reassigned
  // from scratch by walk position every time.
  function domRefFor(el, win) {
    const existing = el.getAttribute(markerAttr);
    if (existing) return existing;
    if (typeof win.__gaiaDomRefSeq !== 'number') win.__gaiaDomRefSeq = 0;
    win.__gaiaDomRefSeq++;
    const domRef = 'dr-' + win.__gaiaDomRefSeq;
    el.setAttribute(markerAttr, domRef);
    return domRef;
  }

  function isVisible(el) {
    const r = el.getBoundingClientRect();
    if (r.width <= 0 || r.height <= 0) return false;
    const style = window.getComputedStyle(el);
    if (style.visibility === 'hidden' || style.display === 'none') return false;
    if (parseFloat(style.opacity) === 0) return false;
    return true;
  }

  function roleOf(el) {
    const explicit = el.getAttribute('role');
    if (explicit) return explicit;
    const tag = el.tagName.toLowerCase();
    const map = {
      a: 'link', button: 'button', input: 'textbox', textarea: 'textbox',
      select: 'combobox', img: 'img', h1: 'heading', h2: 'heading',
      h3: 'heading', h4: 'heading', h5: 'heading', h6: 'heading',
    };
    return map[tag] || null;
  }

  function accessibleName(el) {
    const aria = el.getAttribute('aria-label');
    if (aria) return aria.trim();
    const labelledBy = el.getAttribute('aria-labelledby');
    if (labelledBy) {
      const target = document.getElementById(labelledBy);
      if (target) return target.textContent.trim();
    }
    if (el.id) {
      const label = document.querySelector('label[for="' + el.id + '"]');
      if (label) return label.textContent.trim();
    }
    const text = (el.textContent || '').trim();
    if (text) return text.slice(0, 160);
    return el.getAttribute('placeholder') || el.getAttribute('title') || '';
  }

  function interestingAttrs(el) {
    const keep = ['id', 'name', 'type', 'href', 'placeholder', 'data-testid', 'data-test', 'for'];
    const attrs = {};
    for (const k of keep) {
      const v = el.getAttribute(k);
      if (v) attrs[k] = v;
    }
    return attrs;
  }

  function shouldInclude(el) {
    const tag = el.tagName.toLowerCase();
    const interactiveTags = ['a', 'button', 'input', 'textarea', 'select', 'option', 'label'];
    if (interactiveTags.includes(tag)) return true;
    if (el.hasAttribute('role')) return true;
    if (el.hasAttribute('onclick')) return true;
    if (el.tabIndex >= 0) return true;
    const tag2 = tag;
    if (['h1','h2','h3','h4','h5','h6'].includes(tag2)) return true;
    return false;
  }

  function visitRoot(root, frameId, win) {
    const queue = [root];
    while (queue.length) {
      const node = queue.shift();
      const children = node.children ? Array.from(node.children) : [];
      for (const child of children) {
        if (shouldInclude(child) && out.length < cap) {
          refCounter++;
          const ref = 't0-f' + frameId + '-e' + refCounter;
          // data-gaia-ref is overwritten every walk: it only needs to be
          // correct for the snapshot just captured, unlike data-gaia-dom-ref
          // which must survive across walks for stale-ref recovery.
          child.setAttribute(refAttr, ref);
          const domRef = domRefFor(child, win);
          const box = child.getBoundingClientRect();
          out.push({
            ref_id: ref,
            frame_id: String(frameId),
            dom_ref: domRef,
            tag_name: child.tagName.toLowerCase(),
            role: roleOf(child),
            name: accessibleName(child),
            value: (child.value !== undefined) ? String(child.value) : '',
            disabled: !!child.disabled,
            visible: isVisible(child),
            bounding_box: { x: box.x, y: box.y, width: box.width, height: box.height },
            attributes: interestingAttrs(child),
          });
        }
        if (child.shadowRoot) {
          queue.push(child.shadowRoot);
        } else {
          queue.push(child);
        }
      }
    }
  }

  visitRoot(document.body || document.documentElement, 0, window);

  let frameId = 1;
  for (const frame of document.querySelectorAll('iframe')) {
    try {
      const doc = frame.contentDocument;
      if (doc && doc.body) {
        visitRoot(doc.body, frameId, frame.contentWindow || window);
      }
    } catch (e) {
      // cross-origin frame, inaccessible
    }
    frameId++;
  }

  return { elements: out, truncated: out.length >= cap };
}
gaiaWalk
`

type walkResult struct {
	Elements  []ElementMeta `json:"elements"`
	Truncated bool          `json:"truncated"`
}

// captureSnapshot runs the DOM walk against the page's current document and
// assembles a Snapshot, computing a content hash used for stagnation
// detection and stale-ref recovery scoring.
func captureSnapshot(page *rod.Page, tabID string, elementCap int) (*Snapshot, error) {
	info, err := page.Info()
	if err != nil {
		return nil, fmt.Errorf("reading page info: %w", err)
	}

	res, err := page.Eval(fmt.Sprintf("() => { %s; return gaiaWalk(%d) }", walkScript, elementCap))
	if err != nil {
		return nil, fmt.Errorf("evaluating dom walk: %w", err)
	}

	var wr walkResult
	if err := res.Value.Unmarshal(&wr); err != nil {
		return nil, fmt.Errorf("decoding dom walk result: %w", err)
	}

	byRef := make(map[string]*ElementMeta, len(wr.Elements))
	for i := range wr.Elements {
		wr.Elements[i].TabID = tabID
		byRef[wr.Elements[i].RefID] = &wr.Elements[i]
	}

	snap := &Snapshot{
		URL:       info.URL,
		Title:     info.Title,
		Elements:  wr.Elements,
		ByRef:     byRef,
		Truncated: wr.Truncated,
	}
	snap.DOMHash = computeDOMHash(snap)
	return snap, nil
}

// computeDOMHash derives a stable content hash over the snapshot's elements,
// used by stagnation detection to recognize that nothing on the page changed
// across consecutive goal-loop steps.
func computeDOMHash(s *Snapshot) string {
	h := sha256.New()
	for _, el := range s.Elements {
		fmt.Fprintf(h, "%s|%s|%s|%s|%t|", el.TagName, el.Role, el.Name, el.Value, el.Disabled)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// RenderFormat enumerates the textual snapshot representations a caller can
// request (§3 of the specification).
type RenderFormat string

const (
	FormatAI   RenderFormat = "ai"
	FormatARIA RenderFormat = "aria"
	FormatRole RenderFormat = "role"
	FormatRef  RenderFormat = "ref"
)

// Render produces the requested textual representation of the snapshot.
func (s *Snapshot) Render(format RenderFormat) (string, error) {
	switch format {
	case FormatAI:
		return s.renderAI(), nil
	case FormatARIA:
		return s.renderARIA(), nil
	case FormatRole:
		return s.renderByRole(), nil
	case FormatRef, "":
		return s.renderRefTable(), nil
	default:
		return "", fmt.Errorf("unknown snapshot format %q", format)
	}
}

// renderAI builds an HTML role-tree fragment, sanitizes the untrusted page
// text it carries, and hands it to the markdown converter so the ai format
// reads as nested bullets rather than hand-indented lines.
func (s *Snapshot) renderAI() string {
	var frag strings.Builder
	fmt.Fprintf(&frag, "<h1>%s</h1>\n<p>%s</p>\n<ul>\n", html.EscapeString(s.Title), html.EscapeString(s.URL))
	for _, el := range s.Elements {
		if !el.Visible {
			continue
		}
		label := aiTextSanitizer.Sanitize(el.Name)
		if label == "" {
			label = el.TagName
		}
		role := el.Role
		if role == "" {
			role = el.TagName
		}
		fmt.Fprintf(&frag, "<li>[%s] %s (%s)</li>\n", el.RefID, html.EscapeString(label), html.EscapeString(role))
	}
	frag.WriteString("</ul>\n")

	md, err := aiMarkdownConverter.ConvertString(frag.String())
	if err != nil || strings.TrimSpace(md) == "" {
		return frag.String()
	}
	return md
}

func (s *Snapshot) renderARIA() string {
	var b strings.Builder
	for _, el := range s.Elements {
		role := el.Role
		if role == "" {
			role = "generic"
		}
		fmt.Fprintf(&b, "%s %q [ref=%s]\n", role, el.Name, el.RefID)
	}
	return b.String()
}

func (s *Snapshot) renderByRole() string {
	grouped := map[string][]ElementMeta{}
	var order []string
	for _, el := range s.Elements {
		role := el.Role
		if role == "" {
			role = "other"
		}
		if _, ok := grouped[role]; !ok {
			order = append(order, role)
		}
		grouped[role] = append(grouped[role], el)
	}
	var b strings.Builder
	for _, role := range order {
		fmt.Fprintf(&b, "## %s\n", role)
		for _, el := range grouped[role] {
			fmt.Fprintf(&b, "- [%s] %s\n", el.RefID, el.Name)
		}
	}
	return b.String()
}

func (s *Snapshot) renderRefTable() string {
	raw, err := json.MarshalIndent(s.Elements, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(raw)
}
