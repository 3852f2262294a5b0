// internal/driver/cdp/script.go
package cdp

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/autowait/internal/driver"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// jsPrelude installs the per-document handle registry. Handles are issued
// once per element and resolve only while the element stays connected. Each
// document gets a fresh nonce, so a handle from before a navigation never
// names an element of the new document.
const jsPrelude = `
const S = window.__autowait || (window.__autowait = {
  nonce: (self.crypto && crypto.randomUUID) ? crypto.randomUUID() : Date.now().toString(36) + Math.random().toString(36).slice(2),
  seq: 0, ids: new WeakMap(), nodes: new Map()});
const handleOf = (el) => {
  let h = S.ids.get(el);
  if (!h) {
    h = 'aw-' + S.nonce + '-' + (++S.seq);
    S.ids.set(el, h);
    S.nodes.set(h, new WeakRef(el));
  }
  return h;
};
const lookup = (h) => {
  const ref = S.nodes.get(h);
  const el = ref && ref.deref();
  if (!el || !el.isConnected) {
    S.nodes.delete(h);
    return null;
  }
  return el;
};
const collapse = (s) => (s || '').replace(/\s+/g, ' ').trim();
const textInputs = new Set(['', 'text', 'email', 'password', 'search', 'tel', 'url', 'number', 'date', 'time']);
const typeOf = (el) => (el.getAttribute('type') || '').toLowerCase().trim();
`

// jsQuery evaluates one descriptor and returns {elements} or {invalid}.
const jsQuery = `(function(q) {` + jsPrelude + `
  const norm = (s) => collapse(s).toLowerCase();
  const matches = (actual, want, exact) => exact ? collapse(actual) === collapse(want) : norm(actual).includes(norm(want));

  function role(el) {
    const explicit = el.getAttribute('role');
    if (explicit && explicit.trim()) return explicit.trim().split(/\s+/)[0];
    switch (el.localName) {
      case 'button': return 'button';
      case 'a': return el.hasAttribute('href') ? 'link' : '';
      case 'input': {
        const t = typeOf(el);
        if (['button', 'submit', 'reset', 'image'].includes(t)) return 'button';
        if (t === 'checkbox') return 'checkbox';
        if (t === 'radio') return 'radio';
        if (t === 'range') return 'slider';
        if (t === 'search') return 'searchbox';
        return textInputs.has(t) ? 'textbox' : '';
      }
      case 'textarea': return 'textbox';
      case 'select': return 'combobox';
      case 'option': return 'option';
      case 'h1': case 'h2': case 'h3': case 'h4': case 'h5': case 'h6': return 'heading';
      case 'ul': case 'ol': return 'list';
      case 'li': return 'listitem';
      case 'img': return 'img';
      case 'nav': return 'navigation';
      case 'main': return 'main';
      case 'dialog': return 'dialog';
      case 'table': return 'table';
      case 'tr': return 'row';
      case 'td': return 'cell';
      case 'th': return 'columnheader';
      case 'form': return 'form';
    }
    return '';
  }

  const isControl = (el) => ['input', 'textarea', 'select', 'button'].includes(el.localName);
  function labelledBy(el) {
    const ids = el.getAttribute('aria-labelledby');
    if (!ids) return '';
    return ids.split(/\s+/).map((id) => {
      const t = document.getElementById(id);
      return t ? collapse(t.textContent) : '';
    }).filter(Boolean).join(' ');
  }
  const labels = (el) => el.labels ? Array.from(el.labels).map((l) => collapse(l.textContent)).join(' ') : '';

  function name(el) {
    let v = labelledBy(el);
    if (v) return v;
    v = el.getAttribute('aria-label');
    if (v && v.trim()) return collapse(v);
    if (['input', 'textarea', 'select'].includes(el.localName)) {
      v = labels(el);
      if (v) return v;
      if (['button', 'submit', 'reset'].includes(typeOf(el)) && el.value) return collapse(el.value);
      v = el.getAttribute('placeholder');
      if (v) return collapse(v);
    } else if (el.localName === 'img') {
      v = el.getAttribute('alt');
      if (v) return collapse(v);
    } else {
      v = collapse(el.textContent);
      if (v) return v;
    }
    return collapse(el.getAttribute('title'));
  }

  function visible(el, r) {
    const s = getComputedStyle(el);
    if (s.visibility === 'hidden' || s.visibility === 'collapse') return false;
    return r.width > 0 && r.height > 0;
  }
  function enabled(el) {
    if (el.getAttribute('aria-disabled') === 'true') return false;
    if (['button', 'input', 'select', 'textarea', 'option', 'optgroup', 'fieldset'].includes(el.localName)) {
      return !el.matches(':disabled');
    }
    return true;
  }
  function editable(el) {
    if (el.hasAttribute('readonly')) return false;
    if (el.localName === 'input') return textInputs.has(typeOf(el));
    if (el.localName === 'textarea') return true;
    return el.isContentEditable;
  }
  function checked(el) {
    const aria = el.getAttribute('aria-checked');
    if (aria !== null) return aria === 'true';
    return !!el.checked;
  }
  function pointer(el, r) {
    if (getComputedStyle(el).pointerEvents === 'none') return false;
    if (r.width <= 0 || r.height <= 0) return false;
    const x = r.left + r.width / 2, y = r.top + r.height / 2;
    if (x < 0 || y < 0 || x > innerWidth || y > innerHeight) return true;
    const hit = document.elementFromPoint(x, y);
    return !!hit && (hit === el || el.contains(hit));
  }
  function value(el) {
    if (['input', 'textarea', 'select'].includes(el.localName)) return el.value || '';
    return '';
  }
  function info(el, order) {
    const r = el.getBoundingClientRect();
    const vis = visible(el, r);
    const en = enabled(el);
    return {
      handle: handleOf(el),
      tag: el.localName,
      text: collapse(el.textContent),
      value: value(el),
      role: role(el),
      name: name(el),
      visible: vis,
      enabled: en,
      editable: en && editable(el),
      checked: checked(el),
      pointerEvents: pointer(el, r),
      box: vis ? {x: r.left + scrollX, y: r.top + scrollY, width: r.width, height: r.height} : {x: 0, y: 0, width: 0, height: 0},
      order: order,
    };
  }

  const skipText = new Set(['html', 'head', 'body', 'script', 'style', 'title', 'template', 'noscript']);
  let pred;
  switch (q.kind) {
    case 'role': {
      const want = q.value.toLowerCase();
      pred = (el) => role(el) === want && (!q.name || matches(name(el), q.name, !!q.exact));
      break;
    }
    case 'text':
      pred = (el) => !skipText.has(el.localName) && matches(el.textContent, q.value, !!q.exact);
      break;
    case 'label':
      pred = (el) => {
        const a = el.getAttribute('aria-label');
        if (a && matches(a, q.value, !!q.exact)) return true;
        const lb = labelledBy(el);
        if (lb && matches(lb, q.value, !!q.exact)) return true;
        if (!isControl(el)) return false;
        const l = labels(el);
        return !!l && matches(l, q.value, !!q.exact);
      };
      break;
    case 'placeholder':
      pred = (el) => el.hasAttribute('placeholder') && matches(el.getAttribute('placeholder'), q.value, !!q.exact);
      break;
    case 'testid': {
      const attr = q.attribute || 'data-testid';
      pred = (el) => el.getAttribute(attr) === q.value;
      break;
    }
    case 'selector':
      try {
        document.querySelector(q.value);
      } catch (e) {
        return {invalid: String(e && e.message || e)};
      }
      pred = (el) => el.matches(q.value);
      break;
    default:
      return {invalid: 'unsupported query kind ' + q.kind};
  }

  let scope = null;
  if (q.within) {
    scope = lookup(q.within);
    if (!scope) return {elements: []};
  }
  let found = [];
  Array.from(document.querySelectorAll('*')).forEach((el, i) => {
    if (scope && (el === scope || !scope.contains(el))) return;
    if (pred(el)) found.push([el, i + 1]);
  });
  if (q.kind === 'text') {
    found = found.filter(([el]) => !found.some(([other]) => other !== el && el.contains(other)));
  }
  return {elements: found.map(([el, order]) => info(el, order))};
})(%s)`

// jsPoint scrolls the element into view and returns its centre in viewport
// coordinates.
const jsPoint = `(function(h) {` + jsPrelude + `
  const el = lookup(h);
  if (!el) return {detached: true};
  el.scrollIntoView({block: 'center', inline: 'center'});
  const r = el.getBoundingClientRect();
  return {x: r.left + r.width / 2, y: r.top + r.height / 2};
})(%s)`

// jsClear focuses an editable element and empties it.
const jsClear = `(function(h) {` + jsPrelude + `
  const el = lookup(h);
  if (!el) return {detached: true};
  el.focus();
  if (el.isContentEditable) {
    el.textContent = '';
  } else {
    el.value = '';
  }
  el.dispatchEvent(new Event('input', {bubbles: true}));
  return {};
})(%s)`

// jsFocus focuses an element before keyboard input.
const jsFocus = `(function(h) {` + jsPrelude + `
  const el = lookup(h);
  if (!el) return {detached: true};
  el.focus();
  return {};
})(%s)`

// jsSelect chooses the option whose value or label equals v.
const jsSelect = `(function(h, v) {` + jsPrelude + `
  const el = lookup(h);
  if (!el) return {detached: true};
  if (el.localName !== 'select') return {error: 'element is not a select'};
  const opt = Array.from(el.options).find((o) => o.value === v || collapse(o.label) === v);
  if (!opt) return {error: 'select has no option ' + JSON.stringify(v)};
  el.value = opt.value;
  el.dispatchEvent(new Event('input', {bubbles: true}));
  el.dispatchEvent(new Event('change', {bubbles: true}));
  return {};
})(%s, %s)`

// scriptResult is the envelope every script returns.
type scriptResult struct {
	Elements []driver.ElementInfo `json:"elements"`
	Invalid  string               `json:"invalid"`
	Detached bool                 `json:"detached"`
	Error    string               `json:"error"`
	X        float64              `json:"x"`
	Y        float64              `json:"y"`
}

func encodeArg(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		// Only strings and descriptors are encoded; both always marshal.
		panic(fmt.Sprintf("encode script argument: %v", err))
	}
	return string(b)
}

// queryArg is the matcher script's view of a driver.Query.
type queryArg struct {
	Kind      driver.QueryKind `json:"kind"`
	Value     string           `json:"value"`
	Name      string           `json:"name,omitempty"`
	Exact     bool             `json:"exact,omitempty"`
	Attribute string           `json:"attribute,omitempty"`
	Within    driver.Handle    `json:"within,omitempty"`
}

func buildQueryScript(q driver.Query) string {
	d := q.Descriptor
	return fmt.Sprintf(jsQuery, encodeArg(queryArg{
		Kind:      d.Kind,
		Value:     d.Value,
		Name:      d.Name,
		Exact:     d.Exact,
		Attribute: d.Attribute,
		Within:    q.Within,
	}))
}

func decodeResult(raw []byte) (scriptResult, error) {
	var res scriptResult
	if len(raw) == 0 || string(raw) == "null" {
		return res, fmt.Errorf("script returned no result")
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return res, fmt.Errorf("decode script result: %w", err)
	}
	return res, nil
}
