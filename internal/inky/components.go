package inky

import (
	"fmt"
	"strconv"

	"golang.org/x/net/html"
)

type builder func(e *expander, n *html.Node) []*html.Node

var components map[string]builder

func init() {
	components = map[string]builder{
		"container":  container,
		"row":        row,
		"columns":    columns,
		"button":     button,
		"spacer":     spacer,
		"callout":    callout,
		"center":     center,
		"menu":       menu,
		"item":       item,
		"wrapper":    wrapper,
		"h-line":     hLine,
		"block-grid": blockGrid,
	}
}

func class(n *html.Node) string {
	c, _ := getAttr(n, "class")
	return c
}

// table opens table>tbody>tr carrying n's other attributes and returns
// the table and the row.
func table(n *html.Node, cls string, extra ...html.Attribute) (*html.Node, *html.Node) {
	return tableSkipping(n, cls, nil, extra...)
}

func tableSkipping(n *html.Node, cls string, skip []string, extra ...html.Attribute) (*html.Node, *html.Node) {
	attrs := append(extra, passthrough(n, skip...)...)
	attrs = append(attrs, attr("class", cls))
	return nest(element("table", attrs...), "tbody", "tr")
}

func container(_ *expander, n *html.Node) []*html.Node {
	outer, tr := table(n, classes("container", class(n)), attr("align", "center"))
	td := element("td")
	tr.AppendChild(td)
	moveChildren(n, td)
	return []*html.Node{outer}
}

func row(_ *expander, n *html.Node) []*html.Node {
	outer, tr := table(n, classes("row", class(n)))
	moveChildren(n, tr)
	return []*html.Node{outer}
}

func columns(e *expander, n *html.Node) []*html.Node {
	info, ok := e.columns[n]
	if !ok {
		info = columnInfo{index: 0, count: 1}
	}

	small, hasSmall := getAttr(n, "small")
	if !hasSmall {
		small = strconv.Itoa(ColumnCount)
	}
	large, hasLarge := getAttr(n, "large")
	if !hasLarge {
		if hasSmall {
			large = small
		} else {
			large = strconv.Itoa(ColumnCount / info.count)
		}
	}

	cls := classes(fmt.Sprintf("small-%s large-%s columns", small, large), class(n))
	if info.index == 0 {
		cls = classes(cls, "first")
	}
	if info.index == info.count-1 {
		cls = classes(cls, "last")
	}

	attrs := append(passthrough(n, "small", "large", "no-expander"), attr("class", cls))
	outer, tr := nest(element("th", attrs...), "table", "tbody", "tr")
	inner := element("th")
	tr.AppendChild(inner)
	moveChildren(n, inner)

	_, noExpander := getAttr(n, "no-expander")
	if large == strconv.Itoa(ColumnCount) && !info.nestedRow && !noExpander {
		tr.AppendChild(element("th", attr("class", "expander")))
	}
	return []*html.Node{outer}
}

func button(_ *expander, n *html.Node) []*html.Node {
	size, _ := getAttr(n, "size")
	_, expandAttr := getAttr(n, "expand")
	expanded := expandAttr || hasClass(n, "expand") || hasClass(n, "expanded")

	cls := classes("button", class(n), size)
	if expandAttr && !hasClass(n, "expand") && !hasClass(n, "expanded") {
		cls = classes(cls, "expand")
	}

	attrs := append(passthrough(n, "href", "target", "size", "expand"), attr("class", cls))
	outer, tr := nest(element("table", attrs...), "tbody", "tr")
	cell := element("td")
	tr.AppendChild(cell)
	_, innerTR := nest(cell, "table", "tbody", "tr")
	innerTD := element("td")
	innerTR.AppendChild(innerTD)

	content := innerTD
	if href, ok := getAttr(n, "href"); ok {
		linkAttrs := []html.Attribute{attr("href", href)}
		if target, ok := getAttr(n, "target"); ok {
			linkAttrs = append(linkAttrs, attr("target", target))
		}
		if expanded {
			linkAttrs = append(linkAttrs, attr("align", "center"), attr("class", "float-center"))
		}
		link := element("a", linkAttrs...)
		content = link
		if expanded {
			wrap := element("center", attr("data-parsed", ""))
			wrap.AppendChild(link)
			innerTD.AppendChild(wrap)
		} else {
			innerTD.AppendChild(link)
		}
	}
	moveChildren(n, content)

	if expanded {
		tr.AppendChild(element("td", attr("class", "expander")))
	}
	return []*html.Node{outer}
}

func spacer(_ *expander, n *html.Node) []*html.Node {
	skip := []string{"size", "size-sm", "size-lg"}
	build := func(size, cls string) *html.Node {
		outer, tr := tableSkipping(n, classes("spacer", cls, class(n)), skip)
		td := element("td",
			attr("height", size+"px"),
			attr("style", fmt.Sprintf("font-size:%spx;line-height:%spx;", size, size)))
		td.AppendChild(nbsp())
		tr.AppendChild(td)
		return outer
	}

	var out []*html.Node
	small, hasSmall := getAttr(n, "size-sm")
	large, hasLarge := getAttr(n, "size-lg")
	switch {
	case hasSmall || hasLarge:
		if hasSmall {
			out = append(out, build(small, "hide-for-large"))
		}
		if hasLarge {
			out = append(out, build(large, "show-for-large"))
		}
	default:
		size, ok := getAttr(n, "size")
		if !ok {
			size = "16"
		}
		out = append(out, build(size, ""))
	}

	// A self-closed spacer swallows its following siblings; hand them back.
	return append(out, detachChildren(n)...)
}

func callout(_ *expander, n *html.Node) []*html.Node {
	outer, tr := table(n, "callout")
	inner := element("th", attr("class", classes("callout-inner", class(n))))
	tr.AppendChild(inner)
	tr.AppendChild(element("th", attr("class", "expander")))
	moveChildren(n, inner)
	return []*html.Node{outer}
}

func center(_ *expander, n *html.Node) []*html.Node {
	if _, ok := getAttr(n, "data-parsed"); ok {
		return []*html.Node{detachClone(n)}
	}
	out := detachClone(n)
	out.Attr = append(out.Attr, attr("data-parsed", ""))
	for c := out.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		c.Attr = setAttr(c.Attr, "align", "center")
		if !hasClass(c, "float-center") {
			c.Attr = setAttr(c.Attr, "class", classes(class(c), "float-center"))
		}
	}
	return []*html.Node{out}
}

func menu(_ *expander, n *html.Node) []*html.Node {
	outer, tr := table(n, classes("menu", class(n)))
	td := element("td")
	tr.AppendChild(td)
	_, innerTR := nest(td, "table", "tbody", "tr")
	moveChildren(n, innerTR)
	return []*html.Node{outer}
}

func item(_ *expander, n *html.Node) []*html.Node {
	attrs := append(passthrough(n, "href", "target"), attr("class", classes("menu-item", class(n))))
	th := element("th", attrs...)
	content := th
	if href, ok := getAttr(n, "href"); ok {
		linkAttrs := []html.Attribute{attr("href", href)}
		if target, ok := getAttr(n, "target"); ok {
			linkAttrs = append(linkAttrs, attr("target", target))
		}
		content = element("a", linkAttrs...)
		th.AppendChild(content)
	}
	moveChildren(n, content)
	return []*html.Node{th}
}

func wrapper(_ *expander, n *html.Node) []*html.Node {
	outer, tr := table(n, classes("wrapper", class(n)), attr("align", "center"))
	td := element("td", attr("class", "wrapper-inner"))
	tr.AppendChild(td)
	moveChildren(n, td)
	return []*html.Node{outer}
}

func hLine(_ *expander, n *html.Node) []*html.Node {
	outer, tr := table(n, classes("h-line", class(n)))
	th := element("th")
	th.AppendChild(nbsp())
	tr.AppendChild(th)
	return append([]*html.Node{outer}, detachChildren(n)...)
}

func blockGrid(_ *expander, n *html.Node) []*html.Node {
	cls := classes("block-grid", class(n))
	if up, ok := getAttr(n, "up"); ok && up != "" {
		cls = classes("block-grid", "up-"+up, class(n))
	}
	outer, tr := tableSkipping(n, cls, []string{"up"})
	moveChildren(n, tr)
	return []*html.Node{outer}
}

// detachClone returns a parentless shallow copy of n holding n's children.
func detachClone(n *html.Node) *html.Node {
	out := &html.Node{
		Type:      n.Type,
		Data:      n.Data,
		DataAtom:  n.DataAtom,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	moveChildren(n, out)
	return out
}

func detachChildren(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		out = append(out, c)
		c = next
	}
	return out
}

func setAttr(attrs []html.Attribute, key, val string) []html.Attribute {
	for i := range attrs {
		if attrs[i].Key == key {
			attrs[i].Val = val
			return attrs
		}
	}
	return append(attrs, attr(key, val))
}
