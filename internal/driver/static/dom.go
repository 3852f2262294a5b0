// internal/driver/static/dom.go
package static

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xkilldash9x/autowait/internal/driver"
)

// rowHeight is the synthetic layout pitch used when an element declares no
// data-box. Elements are stacked in document order.
const rowHeight = 20.0

// textInputTypes are the input types that accept typed text.
var textInputTypes = map[string]bool{
	"": true, "text": true, "email": true, "password": true, "search": true,
	"tel": true, "url": true, "number": true, "date": true, "time": true,
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

func hasAttr(n *html.Node, key string) bool {
	_, ok := attr(n, key)
	return ok
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if !(a.Namespace == "" && strings.EqualFold(a.Key, key)) {
			out = append(out, a)
		}
	}
	n.Attr = out
}

func inputType(n *html.Node) string {
	t, _ := attr(n, "type")
	return strings.ToLower(strings.TrimSpace(t))
}

// styleProp returns the value of one inline style declaration.
func styleProp(n *html.Node, prop string) string {
	style, ok := attr(n, "style")
	if !ok {
		return ""
	}
	for _, decl := range strings.Split(style, ";") {
		k, v, found := strings.Cut(decl, ":")
		if found && strings.EqualFold(strings.TrimSpace(k), prop) {
			return strings.ToLower(strings.TrimSpace(v))
		}
	}
	return ""
}

func ancestorsAndSelf(n *html.Node, fn func(*html.Node) bool) bool {
	for p := n; p != nil && p.Type == html.ElementNode; p = p.Parent {
		if fn(p) {
			return true
		}
	}
	return false
}

func isVisible(n *html.Node) bool {
	if n.DataAtom == atom.Input && inputType(n) == "hidden" {
		return false
	}
	hidden := ancestorsAndSelf(n, func(p *html.Node) bool {
		switch p.DataAtom {
		case atom.Head, atom.Script, atom.Style, atom.Template, atom.Title, atom.Noscript:
			return true
		}
		return hasAttr(p, "hidden") ||
			styleProp(p, "display") == "none" ||
			styleProp(p, "visibility") == "hidden"
	})
	return !hidden
}

func isEnabled(n *html.Node) bool {
	if v, _ := attr(n, "aria-disabled"); v == "true" {
		return false
	}
	switch n.DataAtom {
	case atom.Button, atom.Input, atom.Select, atom.Textarea, atom.Option, atom.Fieldset:
		if hasAttr(n, "disabled") {
			return false
		}
		return !ancestorsAndSelf(n.Parent, func(p *html.Node) bool {
			return p.DataAtom == atom.Fieldset && hasAttr(p, "disabled")
		})
	}
	return true
}

func isEditable(n *html.Node) bool {
	if hasAttr(n, "readonly") {
		return false
	}
	switch n.DataAtom {
	case atom.Input:
		return textInputTypes[inputType(n)]
	case atom.Textarea:
		return true
	}
	v, ok := attr(n, "contenteditable")
	return ok && v != "false"
}

func isChecked(n *html.Node) bool {
	if v, ok := attr(n, "aria-checked"); ok {
		return v == "true"
	}
	return hasAttr(n, "checked")
}

func receivesPointerEvents(n *html.Node) bool {
	return !ancestorsAndSelf(n, func(p *html.Node) bool {
		return styleProp(p, "pointer-events") == "none"
	})
}

// implicitRole maps elements to their default ARIA role.
func implicitRole(n *html.Node) string {
	if r, ok := attr(n, "role"); ok {
		return strings.Fields(r + " ")[0]
	}
	switch n.DataAtom {
	case atom.Button:
		return "button"
	case atom.A:
		if hasAttr(n, "href") {
			return "link"
		}
	case atom.Input:
		switch t := inputType(n); {
		case t == "button" || t == "submit" || t == "reset" || t == "image":
			return "button"
		case t == "checkbox":
			return "checkbox"
		case t == "radio":
			return "radio"
		case t == "range":
			return "slider"
		case t == "search":
			return "searchbox"
		case textInputTypes[t]:
			return "textbox"
		}
	case atom.Textarea:
		return "textbox"
	case atom.Select:
		return "combobox"
	case atom.Option:
		return "option"
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		return "heading"
	case atom.Ul, atom.Ol:
		return "list"
	case atom.Li:
		return "listitem"
	case atom.Img:
		return "img"
	case atom.Nav:
		return "navigation"
	case atom.Main:
		return "main"
	case atom.Dialog:
		return "dialog"
	case atom.Table:
		return "table"
	case atom.Tr:
		return "row"
	case atom.Td:
		return "cell"
	case atom.Th:
		return "columnheader"
	case atom.Form:
		return "form"
	}
	return ""
}

// nodeText is the collapsed text content of n.
func nodeText(n *html.Node) string {
	return collapse(goquery.NewDocumentFromNode(n).Text())
}

func collapse(s string) string { return strings.Join(strings.Fields(s), " ") }

// labelText returns the text of labels attached to a form control.
func labelText(doc *goquery.Document, n *html.Node) string {
	var parts []string
	if id, ok := attr(n, "id"); ok && id != "" {
		doc.Find("label").Each(func(_ int, s *goquery.Selection) {
			if f, _ := s.Attr("for"); f == id {
				parts = append(parts, collapse(s.Text()))
			}
		})
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if p.DataAtom == atom.Label {
			parts = append(parts, nodeText(p))
			break
		}
	}
	return strings.Join(parts, " ")
}

func labelledBy(doc *goquery.Document, n *html.Node) string {
	ids, ok := attr(n, "aria-labelledby")
	if !ok {
		return ""
	}
	var parts []string
	for _, id := range strings.Fields(ids) {
		doc.Find("[id]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if v, _ := s.Attr("id"); v == id {
				parts = append(parts, collapse(s.Text()))
				return false
			}
			return true
		})
	}
	return strings.Join(parts, " ")
}

// accessibleName approximates the accessible name computation: aria
// attributes, then labels, then content or alt text, then title.
func accessibleName(doc *goquery.Document, n *html.Node) string {
	if v := labelledBy(doc, n); v != "" {
		return v
	}
	if v, ok := attr(n, "aria-label"); ok && strings.TrimSpace(v) != "" {
		return collapse(v)
	}
	switch n.DataAtom {
	case atom.Input, atom.Textarea, atom.Select:
		if v := labelText(doc, n); v != "" {
			return v
		}
		switch inputType(n) {
		case "button", "submit", "reset":
			if v, ok := attr(n, "value"); ok {
				return collapse(v)
			}
		}
		if v, ok := attr(n, "placeholder"); ok {
			return collapse(v)
		}
	case atom.Img:
		if v, ok := attr(n, "alt"); ok {
			return collapse(v)
		}
	default:
		if v := nodeText(n); v != "" {
			return v
		}
	}
	if v, ok := attr(n, "title"); ok {
		return collapse(v)
	}
	return ""
}

// controlValue is the current value of a form control.
func controlValue(n *html.Node) string {
	switch n.DataAtom {
	case atom.Input:
		v, _ := attr(n, "value")
		return v
	case atom.Textarea:
		return goquery.NewDocumentFromNode(n).Text()
	case atom.Select:
		var first, selected string
		var found bool
		goquery.NewDocumentFromNode(n).Find("option").Each(func(i int, s *goquery.Selection) {
			v := optionValue(s.Nodes[0])
			if i == 0 {
				first = v
			}
			if !found && hasAttr(s.Nodes[0], "selected") {
				selected, found = v, true
			}
		})
		if found {
			return selected
		}
		return first
	}
	return ""
}

func optionValue(n *html.Node) string {
	if v, ok := attr(n, "value"); ok {
		return v
	}
	return nodeText(n)
}

// box reads data-box="x,y,w,h" or derives a row from document order.
// Invisible elements have an empty box.
func box(n *html.Node, order int, visible bool) driver.Box {
	if !visible {
		return driver.Box{}
	}
	if v, ok := attr(n, "data-box"); ok {
		parts := strings.Split(v, ",")
		if len(parts) == 4 {
			var f [4]float64
			valid := true
			for i, p := range parts {
				x, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
				if err != nil {
					valid = false
					break
				}
				f[i] = x
			}
			if valid {
				return driver.Box{X: f[0], Y: f[1], Width: f[2], Height: f[3]}
			}
		}
	}
	return driver.Box{X: 0, Y: float64(order) * rowHeight, Width: 100, Height: rowHeight}
}
