package sandbox

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/dop251/goja"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// eventTarget is anything listeners can be attached to. node is nil for the
// window.
type eventTarget struct {
	obj       *goja.Object
	node      *html.Node
	listeners map[string][]goja.Value
}

// element wraps one node of the document for script access.
type element struct {
	eventTarget
	style *goja.Object
}

// dom is the script-facing view of a parsed document. Wrappers are created
// lazily and cached so the same node always yields the same object.
type dom struct {
	c         *Context
	vm        *goja.Runtime
	doc       *goquery.Document
	root      *html.Node
	document  *eventTarget
	byNode    map[*html.Node]*element
	byObj     map[*goja.Object]*element
	selectors map[string]cascadia.Selector
}

func newDOM(c *Context, doc *goquery.Document) *dom {
	d := &dom{
		c:         c,
		vm:        c.vm,
		doc:       doc,
		root:      doc.Nodes[0],
		byNode:    make(map[*html.Node]*element),
		byObj:     make(map[*goja.Object]*element),
		selectors: make(map[string]cascadia.Selector),
	}
	d.document = &d.wrap(d.root).eventTarget
	d.installDocument(d.document.obj)
	return d
}

// scripts returns the source of every classic inline script in document
// order. External and non-JavaScript scripts are skipped.
func (d *dom) scripts() []string {
	var out []string
	d.doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if _, external := s.Attr("src"); external {
			return
		}
		if typ, ok := s.Attr("type"); ok && !isScriptType(typ) {
			return
		}
		out = append(out, s.Text())
	})
	return out
}

func isScriptType(typ string) bool {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "", "text/javascript", "application/javascript", "module":
		return true
	}
	return false
}

func (d *dom) body() *html.Node {
	if n := d.find(d.root, func(n *html.Node) bool { return n.DataAtom == atom.Body }); n != nil {
		return n
	}
	return d.root
}

func (d *dom) find(scope *html.Node, match func(*html.Node) bool) *html.Node {
	for n := scope.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == html.ElementNode && match(n) {
			return n
		}
		if found := d.find(n, match); found != nil {
			return found
		}
	}
	return nil
}

func (d *dom) compile(sel string) (cascadia.Selector, error) {
	if m, ok := d.selectors[sel]; ok {
		return m, nil
	}
	m, err := cascadia.Compile(sel)
	if err != nil {
		return nil, err
	}
	d.selectors[sel] = m
	return m, nil
}

// queryAll returns descendants of scope matching sel in document order.
func (d *dom) queryAll(scope *html.Node, sel string) ([]*element, error) {
	m, err := d.compile(sel)
	if err != nil {
		return nil, err
	}
	nodes := goquery.NewDocumentFromNode(scope).FindMatcher(m).Nodes
	out := make([]*element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, d.wrap(n))
	}
	return out, nil
}

func (d *dom) queryFirst(scope *html.Node, sel string) (*element, error) {
	all, err := d.queryAll(scope, sel)
	if err != nil || len(all) == 0 {
		return nil, err
	}
	return all[0], nil
}

// wrap returns the script object for n, creating it on first use.
func (d *dom) wrap(n *html.Node) *element {
	if el, ok := d.byNode[n]; ok {
		return el
	}
	el := &element{eventTarget: eventTarget{
		obj:       d.vm.NewObject(),
		node:      n,
		listeners: make(map[string][]goja.Value),
	}}
	d.byNode[n] = el
	d.byObj[el.obj] = el

	d.c.installTarget(&el.eventTarget)
	if n.Type == html.ElementNode || n.Type == html.TextNode {
		d.installNode(el)
	}
	return el
}

func (d *dom) unwrap(v goja.Value) *element {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil
	}
	return d.byObj[obj]
}

func (d *dom) wrapValue(n *html.Node) goja.Value {
	if n == nil {
		return goja.Null()
	}
	return d.wrap(n).obj
}

func (d *dom) wrapList(els []*element) goja.Value {
	items := make([]interface{}, len(els))
	for i, el := range els {
		items[i] = el.obj
	}
	return d.vm.NewArray(items...)
}

// parentTarget is the next target on the propagation path.
func (d *dom) parentTarget(t *eventTarget) *eventTarget {
	if t == d.c.window {
		return nil
	}
	if t.node == nil {
		return nil
	}
	if t.node.Type == html.DocumentNode {
		return d.c.window
	}
	if t.node.Parent == nil {
		return nil
	}
	return &d.wrap(t.node.Parent).eventTarget
}

func (d *dom) accessor(obj *goja.Object, name string, get func() interface{}, set func(goja.Value)) {
	getter := d.vm.ToValue(func(goja.FunctionCall) goja.Value {
		return d.vm.ToValue(get())
	})
	var setter goja.Value
	if set != nil {
		setter = d.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			set(call.Argument(0))
			return goja.Undefined()
		})
	}
	_ = obj.DefineAccessorProperty(name, getter, setter, goja.FLAG_TRUE, goja.FLAG_TRUE)
}

func (d *dom) throwSyntax(err error) {
	panic(d.c.domException(err.Error(), "SyntaxError"))
}

func (d *dom) installQueries(obj *goja.Object, scope func() *html.Node) {
	_ = obj.Set("querySelector", func(call goja.FunctionCall) goja.Value {
		el, err := d.queryFirst(scope(), call.Argument(0).String())
		if err != nil {
			d.throwSyntax(err)
		}
		if el == nil {
			return goja.Null()
		}
		return el.obj
	})
	_ = obj.Set("querySelectorAll", func(call goja.FunctionCall) goja.Value {
		els, err := d.queryAll(scope(), call.Argument(0).String())
		if err != nil {
			d.throwSyntax(err)
		}
		return d.wrapList(els)
	})
	_ = obj.Set("getElementsByClassName", func(call goja.FunctionCall) goja.Value {
		var sel strings.Builder
		for _, class := range strings.Fields(call.Argument(0).String()) {
			sel.WriteString(".")
			sel.WriteString(class)
		}
		if sel.Len() == 0 {
			return d.vm.NewArray()
		}
		els, err := d.queryAll(scope(), sel.String())
		if err != nil {
			return d.vm.NewArray()
		}
		return d.wrapList(els)
	})
	_ = obj.Set("getElementsByTagName", func(call goja.FunctionCall) goja.Value {
		els, err := d.queryAll(scope(), call.Argument(0).String())
		if err != nil {
			return d.vm.NewArray()
		}
		return d.wrapList(els)
	})
}

func (d *dom) installDocument(obj *goja.Object) {
	root := func() *html.Node { return d.root }
	d.installQueries(obj, root)

	_ = obj.Set("getElementById", func(call goja.FunctionCall) goja.Value {
		id := call.Argument(0).String()
		return d.wrapValue(d.find(d.root, func(n *html.Node) bool {
			v, ok := attr(n, "id")
			return ok && v == id
		}))
	})
	_ = obj.Set("createElement", func(call goja.FunctionCall) goja.Value {
		tag := strings.ToLower(call.Argument(0).String())
		n := &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
		return d.wrap(n).obj
	})
	_ = obj.Set("createTextNode", func(call goja.FunctionCall) goja.Value {
		n := &html.Node{Type: html.TextNode, Data: call.Argument(0).String()}
		return d.wrap(n).obj
	})

	d.accessor(obj, "body", func() interface{} {
		return d.wrapValue(d.body())
	}, nil)
	d.accessor(obj, "head", func() interface{} {
		return d.wrapValue(d.find(d.root, func(n *html.Node) bool { return n.DataAtom == atom.Head }))
	}, nil)
	d.accessor(obj, "documentElement", func() interface{} {
		return d.wrapValue(d.find(d.root, func(n *html.Node) bool { return n.DataAtom == atom.Html }))
	}, nil)
	d.accessor(obj, "title", func() interface{} {
		if n := d.find(d.root, func(n *html.Node) bool { return n.DataAtom == atom.Title }); n != nil {
			return strings.TrimSpace(textContent(n))
		}
		return ""
	}, nil)
	d.accessor(obj, "readyState", func() interface{} {
		return d.c.readyState
	}, nil)
	d.accessor(obj, "defaultView", func() interface{} {
		return d.vm.GlobalObject()
	}, nil)

	// An opaque origin has no cookie jar.
	deny := func() interface{} {
		panic(d.c.securityError("The document is sandboxed and lacks the 'allow-same-origin' flag."))
	}
	d.accessor(obj, "cookie", deny, func(goja.Value) { deny() })
}

func (c *Context) installTarget(t *eventTarget) {
	vm := c.vm
	_ = t.obj.Set("addEventListener", func(call goja.FunctionCall) goja.Value {
		typ := call.Argument(0).String()
		fn := call.Argument(1)
		if _, ok := goja.AssertFunction(fn); !ok {
			return goja.Undefined()
		}
		for _, existing := range t.listeners[typ] {
			if existing.SameAs(fn) {
				return goja.Undefined()
			}
		}
		t.listeners[typ] = append(t.listeners[typ], fn)
		return goja.Undefined()
	})
	_ = t.obj.Set("removeEventListener", func(call goja.FunctionCall) goja.Value {
		typ := call.Argument(0).String()
		fn := call.Argument(1)
		list := t.listeners[typ]
		for i, existing := range list {
			if existing.SameAs(fn) {
				t.listeners[typ] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		return goja.Undefined()
	})
	_ = t.obj.Set("dispatchEvent", func(call goja.FunctionCall) goja.Value {
		evt, ok := call.Argument(0).(*goja.Object)
		if !ok {
			panic(vm.NewTypeError("parameter 1 is not of type 'Event'"))
		}
		if err := c.reentered(func() error { return c.dispatch(t, evt) }); err != nil {
			panic(err)
		}
		return vm.ToValue(!evt.Get("defaultPrevented").ToBoolean())
	})
}

func (d *dom) installNode(el *element) {
	n := el.node
	obj := el.obj

	d.accessor(obj, "nodeType", func() interface{} {
		if n.Type == html.TextNode {
			return 3
		}
		return 1
	}, nil)
	d.accessor(obj, "nodeName", func() interface{} {
		if n.Type == html.TextNode {
			return "#text"
		}
		return strings.ToUpper(n.Data)
	}, nil)
	d.accessor(obj, "textContent", func() interface{} {
		return textContent(n)
	}, func(v goja.Value) {
		setText(n, v.String())
	})
	d.accessor(obj, "parentNode", func() interface{} {
		return d.wrapValue(n.Parent)
	}, nil)
	d.accessor(obj, "parentElement", func() interface{} {
		if n.Parent == nil || n.Parent.Type != html.ElementNode {
			return goja.Null()
		}
		return d.wrap(n.Parent).obj
	}, nil)
	_ = obj.Set("remove", func(goja.FunctionCall) goja.Value {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
		return goja.Undefined()
	})

	if n.Type != html.ElementNode {
		return
	}

	d.installQueries(obj, func() *html.Node { return n })

	d.accessor(obj, "tagName", func() interface{} { return strings.ToUpper(n.Data) }, nil)
	d.reflectAttr(obj, n, "id", "id")
	d.reflectAttr(obj, n, "className", "class")
	d.reflectAttr(obj, n, "value", "value")
	d.reflectAttr(obj, n, "href", "href")
	d.reflectAttr(obj, n, "src", "src")

	d.accessor(obj, "innerText", func() interface{} {
		return textContent(n)
	}, func(v goja.Value) {
		setText(n, v.String())
	})
	d.accessor(obj, "innerHTML", func() interface{} {
		return d.innerHTML(n)
	}, func(v goja.Value) {
		if err := setInnerHTML(n, v.String()); err != nil {
			d.throwSyntax(err)
		}
	})
	d.accessor(obj, "outerHTML", func() interface{} {
		out, err := goquery.OuterHtml(goquery.NewDocumentFromNode(n).Selection)
		if err != nil {
			return ""
		}
		return out
	}, nil)
	d.accessor(obj, "children", func() interface{} {
		var kids []*element
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				kids = append(kids, d.wrap(c))
			}
		}
		return d.wrapList(kids)
	}, nil)
	d.accessor(obj, "firstElementChild", func() interface{} {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				return d.wrap(c).obj
			}
		}
		return goja.Null()
	}, nil)
	d.accessor(obj, "style", func() interface{} {
		return d.styleOf(el)
	}, nil)
	d.accessor(obj, "classList", func() interface{} {
		return d.classList(n)
	}, nil)
	for _, metric := range []string{"offsetWidth", "offsetHeight", "clientWidth", "clientHeight", "scrollTop", "scrollLeft"} {
		d.accessor(obj, metric, func() interface{} { return 0 }, nil)
	}

	_ = obj.Set("getAttribute", func(call goja.FunctionCall) goja.Value {
		if v, ok := attr(n, call.Argument(0).String()); ok {
			return d.vm.ToValue(v)
		}
		return goja.Null()
	})
	_ = obj.Set("setAttribute", func(call goja.FunctionCall) goja.Value {
		setAttr(n, call.Argument(0).String(), call.Argument(1).String())
		return goja.Undefined()
	})
	_ = obj.Set("removeAttribute", func(call goja.FunctionCall) goja.Value {
		removeAttr(n, call.Argument(0).String())
		return goja.Undefined()
	})
	_ = obj.Set("hasAttribute", func(call goja.FunctionCall) goja.Value {
		_, ok := attr(n, call.Argument(0).String())
		return d.vm.ToValue(ok)
	})
	_ = obj.Set("appendChild", func(call goja.FunctionCall) goja.Value {
		child := d.unwrap(call.Argument(0))
		if child == nil {
			panic(d.vm.NewTypeError("parameter 1 is not of type 'Node'"))
		}
		d.appendChild(n, child.node)
		return child.obj
	})
	_ = obj.Set("append", func(call goja.FunctionCall) goja.Value {
		for _, arg := range call.Arguments {
			if child := d.unwrap(arg); child != nil {
				d.appendChild(n, child.node)
				continue
			}
			n.AppendChild(&html.Node{Type: html.TextNode, Data: arg.String()})
		}
		return goja.Undefined()
	})
	_ = obj.Set("removeChild", func(call goja.FunctionCall) goja.Value {
		child := d.unwrap(call.Argument(0))
		if child == nil || child.node.Parent != n {
			panic(d.c.domException("The node to be removed is not a child of this node.", "NotFoundError"))
		}
		n.RemoveChild(child.node)
		return child.obj
	})
	_ = obj.Set("matches", func(call goja.FunctionCall) goja.Value {
		m, err := d.compile(call.Argument(0).String())
		if err != nil {
			d.throwSyntax(err)
		}
		return d.vm.ToValue(m.Match(n))
	})
	_ = obj.Set("closest", func(call goja.FunctionCall) goja.Value {
		m, err := d.compile(call.Argument(0).String())
		if err != nil {
			d.throwSyntax(err)
		}
		for p := n; p != nil && p.Type == html.ElementNode; p = p.Parent {
			if m.Match(p) {
				return d.wrap(p).obj
			}
		}
		return goja.Null()
	})
	_ = obj.Set("click", func(goja.FunctionCall) goja.Value {
		if err := d.c.reentered(func() error { return d.c.fire(&el.eventTarget, "click", true) }); err != nil {
			panic(err)
		}
		return goja.Undefined()
	})
	_ = obj.Set("focus", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	_ = obj.Set("blur", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	_ = obj.Set("getBoundingClientRect", func(goja.FunctionCall) goja.Value {
		rect := d.vm.NewObject()
		for _, k := range []string{"x", "y", "top", "left", "right", "bottom", "width", "height"} {
			_ = rect.Set(k, 0)
		}
		return rect
	})
}

// reflectAttr exposes an attribute as a string property.
func (d *dom) reflectAttr(obj *goja.Object, n *html.Node, prop, name string) {
	d.accessor(obj, prop, func() interface{} {
		v, _ := attr(n, name)
		return v
	}, func(v goja.Value) {
		setAttr(n, name, v.String())
	})
}

// styleOf returns the element's inline style object. Properties are stored
// as set; there is no layout.
func (d *dom) styleOf(el *element) *goja.Object {
	if el.style != nil {
		return el.style
	}
	style := d.vm.NewObject()
	_ = style.Set("setProperty", func(call goja.FunctionCall) goja.Value {
		_ = style.Set(call.Argument(0).String(), call.Argument(1).String())
		return goja.Undefined()
	})
	_ = style.Set("getPropertyValue", func(call goja.FunctionCall) goja.Value {
		v := style.Get(call.Argument(0).String())
		if v == nil || goja.IsUndefined(v) {
			return d.vm.ToValue("")
		}
		return v
	})
	_ = style.Set("removeProperty", func(call goja.FunctionCall) goja.Value {
		_ = style.Delete(call.Argument(0).String())
		return goja.Undefined()
	})
	el.style = style
	return style
}

func (d *dom) classList(n *html.Node) *goja.Object {
	list := d.vm.NewObject()
	classes := func() []string {
		v, _ := attr(n, "class")
		return strings.Fields(v)
	}
	write := func(cs []string) {
		setAttr(n, "class", strings.Join(cs, " "))
	}
	has := func(cs []string, name string) bool {
		for _, c := range cs {
			if c == name {
				return true
			}
		}
		return false
	}
	without := func(cs []string, name string) []string {
		out := cs[:0]
		for _, c := range cs {
			if c != name {
				out = append(out, c)
			}
		}
		return out
	}

	_ = list.Set("add", func(call goja.FunctionCall) goja.Value {
		cs := classes()
		for _, arg := range call.Arguments {
			if name := arg.String(); !has(cs, name) {
				cs = append(cs, name)
			}
		}
		write(cs)
		return goja.Undefined()
	})
	_ = list.Set("remove", func(call goja.FunctionCall) goja.Value {
		cs := classes()
		for _, arg := range call.Arguments {
			cs = without(cs, arg.String())
		}
		write(cs)
		return goja.Undefined()
	})
	_ = list.Set("contains", func(call goja.FunctionCall) goja.Value {
		return d.vm.ToValue(has(classes(), call.Argument(0).String()))
	})
	_ = list.Set("toggle", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		cs := classes()
		on := !has(cs, name)
		if force := call.Argument(1); !goja.IsUndefined(force) {
			on = force.ToBoolean()
		}
		cs = without(cs, name)
		if on {
			cs = append(cs, name)
		}
		write(cs)
		return d.vm.ToValue(on)
	})
	d.accessor(list, "length", func() interface{} { return len(classes()) }, nil)
	return list
}

func (d *dom) appendChild(parent, child *html.Node) {
	for p := parent; p != nil; p = p.Parent {
		if p == child {
			panic(d.c.domException("The new child element contains the parent.", "HierarchyRequestError"))
		}
	}
	if child.Parent != nil {
		child.Parent.RemoveChild(child)
	}
	parent.AppendChild(child)
}

func (d *dom) innerHTML(n *html.Node) string {
	out, err := goquery.NewDocumentFromNode(n).Html()
	if err != nil {
		return ""
	}
	return out
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	return goquery.NewDocumentFromNode(n).Text()
}

func removeChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
}

func setText(n *html.Node, text string) {
	if n.Type == html.TextNode {
		n.Data = text
		return
	}
	removeChildren(n)
	if text != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
}

func setInnerHTML(n *html.Node, markup string) error {
	nodes, err := html.ParseFragment(strings.NewReader(markup), n)
	if err != nil {
		return err
	}
	removeChildren(n)
	for _, child := range nodes {
		n.AppendChild(child)
	}
	return nil
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	key = strings.ToLower(key)
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	key = strings.ToLower(key)
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}
