package jsbind

import (
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/dop251/goja"
	"golang.org/x/net/html"
)

// Element represents a DOM node wrapper.
type Element struct {
	bridge *DOMBridge
	Node   *html.Node
	Object *goja.Object
}

// formControls carry a value property.
var formControls = map[string]bool{
	"input": true, "textarea": true, "select": true, "option": true, "button": true,
}

func newElement(b *DOMBridge, node *html.Node) *Element {
	e := &Element{bridge: b, Node: node, Object: b.vm.NewObject()}
	obj := e.Object

	_ = obj.Set("nodeType", e.NodeType())
	_ = obj.Set("nodeName", e.NodeName())

	b.defineAccessor(obj, "parentNode", e.ParentNode, nil)
	b.defineAccessor(obj, "parentElement", e.ParentElement, nil)
	b.defineAccessor(obj, "childNodes", e.ChildNodes, nil)
	b.defineAccessor(obj, "children", e.Children, nil)
	b.defineAccessor(obj, "firstChild", e.related(func(n *html.Node) *html.Node { return n.FirstChild }), nil)
	b.defineAccessor(obj, "lastChild", e.related(func(n *html.Node) *html.Node { return n.LastChild }), nil)
	b.defineAccessor(obj, "nextSibling", e.related(func(n *html.Node) *html.Node { return n.NextSibling }), nil)
	b.defineAccessor(obj, "previousSibling", e.related(func(n *html.Node) *html.Node { return n.PrevSibling }), nil)

	_ = obj.Set("appendChild", e.AppendChild)
	_ = obj.Set("removeChild", e.RemoveChild)
	_ = obj.Set("insertBefore", e.InsertBefore)
	_ = obj.Set("cloneNode", e.CloneNode)

	switch node.Type {
	case html.ElementNode:
		e.defineElementMembers()
	case html.TextNode, html.CommentNode:
		for _, name := range []string{"textContent", "nodeValue", "data"} {
			b.defineAccessor(obj, name, e.NodeValue, e.SetNodeValue)
		}
	}
	return e
}

func (e *Element) defineElementMembers() {
	b, obj := e.bridge, e.Object

	_ = obj.Set("tagName", strings.ToUpper(e.Node.Data))
	b.defineAccessor(obj, "id", e.attrGetter("id"), e.attrSetter("id"))
	b.defineAccessor(obj, "className", e.attrGetter("class"), e.attrSetter("class"))
	b.defineAccessor(obj, "name", e.attrGetter("name"), e.attrSetter("name"))
	b.defineAccessor(obj, "innerHTML", e.InnerHTML, e.SetInnerHTML)
	b.defineAccessor(obj, "outerHTML", e.OuterHTML, nil)
	b.defineAccessor(obj, "textContent", e.TextContent, e.SetTextContent)
	b.defineAccessor(obj, "innerText", e.TextContent, e.SetTextContent)

	if formControls[e.Node.Data] {
		b.defineAccessor(obj, "value", e.Value, e.SetValue)
	}
	if e.Node.Data == "form" {
		b.defineAccessor(obj, "elements", e.Elements, nil)
		b.defineAccessor(obj, "action", e.attrGetter("action"), e.attrSetter("action"))
		_ = obj.Set("requestSubmit", e.eventMethod("submit"))
		_ = obj.Set("submit", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	}
	if e.Node.Data == "a" || e.Node.Data == "iframe" || e.Node.Data == "script" || e.Node.Data == "img" {
		attr := "src"
		if e.Node.Data == "a" {
			attr = "href"
		}
		b.defineAccessor(obj, attr, e.attrGetter(attr), e.attrSetter(attr))
	}

	_ = obj.Set("getAttribute", e.GetAttribute)
	_ = obj.Set("setAttribute", e.SetAttribute)
	_ = obj.Set("removeAttribute", e.RemoveAttribute)
	_ = obj.Set("hasAttribute", e.HasAttribute)

	_ = obj.Set("querySelector", e.QuerySelector)
	_ = obj.Set("querySelectorAll", e.QuerySelectorAll)
	_ = obj.Set("getElementsByTagName", e.GetElementsByTagName)
	_ = obj.Set("getElementsByClassName", e.GetElementsByClassName)

	_ = obj.Set("click", e.eventMethod("click"))
	_ = obj.Set("focus", e.eventMethod("focus"))
	_ = obj.Set("blur", e.eventMethod("blur"))
	b.installEventTarget(obj, e.Node, func() goja.Value { return b.WrapNode(e.Node) })
}

// --- Node Properties Implementation ---

func (e *Element) NodeType() int {
	switch e.Node.Type {
	case html.ElementNode:
		return 1
	case html.TextNode:
		return 3
	case html.CommentNode:
		return 8
	case html.DocumentNode:
		return 9
	default:
		return 0
	}
}

func (e *Element) NodeName() string {
	switch e.Node.Type {
	case html.ElementNode:
		return strings.ToUpper(e.Node.Data)
	case html.TextNode:
		return "#text"
	case html.CommentNode:
		return "#comment"
	}
	return ""
}

func (e *Element) related(pick func(*html.Node) *html.Node) func() goja.Value {
	return func() goja.Value {
		e.bridge.mu.RLock()
		n := pick(e.Node)
		e.bridge.mu.RUnlock()
		return e.bridge.WrapNode(n)
	}
}

func (e *Element) ParentNode() goja.Value {
	return e.related(func(n *html.Node) *html.Node { return n.Parent })()
}

func (e *Element) ParentElement() goja.Value {
	e.bridge.mu.RLock()
	p := e.Node.Parent
	e.bridge.mu.RUnlock()
	if p == nil || p.Type != html.ElementNode {
		return goja.Null()
	}
	return e.bridge.WrapNode(p)
}

func (e *Element) ChildNodes() goja.Value {
	return e.bridge.WrapNodeList(e.children(false))
}

func (e *Element) Children() goja.Value {
	return e.bridge.WrapNodeList(e.children(true))
}

func (e *Element) children(elementsOnly bool) []*html.Node {
	e.bridge.mu.RLock()
	defer e.bridge.mu.RUnlock()
	var out []*html.Node
	for c := e.Node.FirstChild; c != nil; c = c.NextSibling {
		if elementsOnly && c.Type != html.ElementNode {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (e *Element) NodeValue() goja.Value {
	e.bridge.mu.RLock()
	defer e.bridge.mu.RUnlock()
	return e.bridge.vm.ToValue(e.Node.Data)
}

func (e *Element) SetNodeValue(val goja.Value) {
	e.bridge.mu.Lock()
	defer e.bridge.mu.Unlock()
	e.Node.Data = val.String()
}

// --- Element Properties Implementation ---

func (e *Element) attrGetter(name string) func() goja.Value {
	return func() goja.Value {
		if v, ok := e.attr(name); ok {
			return e.bridge.vm.ToValue(v)
		}
		return e.bridge.vm.ToValue("")
	}
}

func (e *Element) attrSetter(name string) func(goja.Value) {
	return func(v goja.Value) { e.setAttr(name, v.String()) }
}

// Value reads the current value of a form control. Textareas hold it as text; select
// elements report their selected (or first) option.
func (e *Element) Value() goja.Value {
	switch e.Node.Data {
	case "textarea":
		return e.TextContent()
	case "select":
		e.bridge.mu.RLock()
		opt := htmlquery.FindOne(e.Node, ".//option[@selected]")
		if opt == nil {
			opt = htmlquery.FindOne(e.Node, ".//option")
		}
		e.bridge.mu.RUnlock()
		if opt == nil {
			return e.bridge.vm.ToValue("")
		}
		return e.bridge.elementFor(opt).Value()
	case "option":
		if v, ok := e.attr("value"); ok {
			return e.bridge.vm.ToValue(v)
		}
		return e.TextContent()
	}
	return e.attrGetter("value")()
}

func (e *Element) SetValue(v goja.Value) {
	if e.Node.Data == "textarea" {
		e.SetTextContent(v)
		return
	}
	e.setAttr("value", v.String())
}

// Elements lists the form's controls in document order.
func (e *Element) Elements() goja.Value {
	e.bridge.mu.RLock()
	nodes := htmlquery.Find(e.Node, ".//*[self::input or self::textarea or self::select or self::button]")
	e.bridge.mu.RUnlock()
	return e.bridge.WrapNodeList(nodes)
}

// InnerHTML returns the serialized HTML of the element's children.
func (e *Element) InnerHTML() goja.Value {
	e.bridge.mu.RLock()
	defer e.bridge.mu.RUnlock()

	var sb strings.Builder
	for c := e.Node.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&sb, c); err != nil {
			break
		}
	}
	return e.bridge.vm.ToValue(sb.String())
}

// SetInnerHTML parses the provided HTML string and replaces the element's children.
func (e *Element) SetInnerHTML(val goja.Value) {
	newNodes, err := html.ParseFragment(strings.NewReader(val.String()), e.Node)
	if err != nil {
		e.bridge.throw("SyntaxError", "failed to parse HTML: %v", err)
	}

	e.bridge.mu.Lock()
	defer e.bridge.mu.Unlock()
	removeChildren(e.Node)
	for _, n := range newNodes {
		e.Node.AppendChild(n)
	}
}

// OuterHTML returns the serialized HTML of the element itself and its children.
func (e *Element) OuterHTML() goja.Value {
	e.bridge.mu.RLock()
	defer e.bridge.mu.RUnlock()

	var sb strings.Builder
	if err := html.Render(&sb, e.Node); err != nil {
		return e.bridge.vm.ToValue("")
	}
	return e.bridge.vm.ToValue(sb.String())
}

// TextContent returns the concatenated text content of the element and its descendants.
func (e *Element) TextContent() goja.Value {
	e.bridge.mu.RLock()
	defer e.bridge.mu.RUnlock()
	return e.bridge.vm.ToValue(htmlquery.InnerText(e.Node))
}

// SetTextContent replaces the children of the element with a single text node.
func (e *Element) SetTextContent(val goja.Value) {
	e.bridge.mu.Lock()
	defer e.bridge.mu.Unlock()
	removeChildren(e.Node)
	e.Node.AppendChild(&html.Node{Type: html.TextNode, Data: val.String()})
}

func removeChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
}

// --- Node Methods Implementation (DOM Manipulation) ---

func (e *Element) argNode(call goja.FunctionCall, i int, method string) *html.Node {
	w, err := e.bridge.unwrapElement(call.Argument(i))
	if err != nil {
		e.bridge.throw("TypeError", "%s: parameter %d is not of type 'Node': %v", method, i+1, err)
	}
	return w.Node
}

func (e *Element) AppendChild(call goja.FunctionCall) goja.Value {
	child := e.argNode(call, 0, "appendChild")

	e.bridge.mu.Lock()
	defer e.bridge.mu.Unlock()
	if isAncestor(child, e.Node) {
		e.bridge.throw("Error", "HierarchyRequestError: The new child element contains the parent.")
	}
	if child.Parent != nil {
		child.Parent.RemoveChild(child)
	}
	e.Node.AppendChild(child)
	return call.Argument(0)
}

func (e *Element) RemoveChild(call goja.FunctionCall) goja.Value {
	child := e.argNode(call, 0, "removeChild")

	e.bridge.mu.Lock()
	defer e.bridge.mu.Unlock()
	if child.Parent != e.Node {
		e.bridge.throw("Error", "NotFoundError: The node to be removed is not a child of this node.")
	}
	e.Node.RemoveChild(child)
	return call.Argument(0)
}

func (e *Element) InsertBefore(call goja.FunctionCall) goja.Value {
	child := e.argNode(call, 0, "insertBefore")
	var ref *html.Node
	if ra := call.Argument(1); !goja.IsNull(ra) && !goja.IsUndefined(ra) {
		ref = e.argNode(call, 1, "insertBefore")
	}

	e.bridge.mu.Lock()
	defer e.bridge.mu.Unlock()
	if ref != nil && ref.Parent != e.Node {
		e.bridge.throw("Error", "NotFoundError: The reference node is not a child of this node.")
	}
	if isAncestor(child, e.Node) {
		e.bridge.throw("Error", "HierarchyRequestError: The new child element contains the parent.")
	}
	if child == ref {
		return call.Argument(0)
	}
	if child.Parent != nil {
		child.Parent.RemoveChild(child)
	}
	e.Node.InsertBefore(child, ref)
	return call.Argument(0)
}

func (e *Element) CloneNode(call goja.FunctionCall) goja.Value {
	deep := call.Argument(0).ToBoolean()

	e.bridge.mu.RLock()
	clone := cloneHTMLNode(e.Node, deep)
	e.bridge.mu.RUnlock()

	return e.bridge.WrapNode(clone)
}

// isAncestor reports whether a is n or one of its ancestors.
func isAncestor(a, n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == a {
			return true
		}
	}
	return false
}

func cloneHTMLNode(n *html.Node, deep bool) *html.Node {
	if n == nil {
		return nil
	}
	clone := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	if deep {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			clone.AppendChild(cloneHTMLNode(c, true))
		}
	}
	return clone
}

// --- Element Methods Implementation (Attributes) ---

func (e *Element) attr(name string) (string, bool) {
	e.bridge.mu.RLock()
	defer e.bridge.mu.RUnlock()
	name = strings.ToLower(name)
	for _, a := range e.Node.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func (e *Element) setAttr(name, value string) {
	e.bridge.mu.Lock()
	defer e.bridge.mu.Unlock()
	name = strings.ToLower(name)
	for i, a := range e.Node.Attr {
		if a.Key == name {
			e.Node.Attr[i].Val = value
			return
		}
	}
	e.Node.Attr = append(e.Node.Attr, html.Attribute{Key: name, Val: value})
}

func (e *Element) GetAttribute(call goja.FunctionCall) goja.Value {
	if v, ok := e.attr(call.Argument(0).String()); ok {
		return e.bridge.vm.ToValue(v)
	}
	return goja.Null()
}

func (e *Element) SetAttribute(call goja.FunctionCall) goja.Value {
	e.setAttr(call.Argument(0).String(), call.Argument(1).String())
	return goja.Undefined()
}

func (e *Element) HasAttribute(call goja.FunctionCall) goja.Value {
	_, ok := e.attr(call.Argument(0).String())
	return e.bridge.vm.ToValue(ok)
}

func (e *Element) RemoveAttribute(call goja.FunctionCall) goja.Value {
	name := strings.ToLower(call.Argument(0).String())

	e.bridge.mu.Lock()
	defer e.bridge.mu.Unlock()
	for i, a := range e.Node.Attr {
		if a.Key == name {
			e.Node.Attr = append(e.Node.Attr[:i], e.Node.Attr[i+1:]...)
			break
		}
	}
	return goja.Undefined()
}

// --- Scoped queries ---

func (e *Element) QuerySelector(call goja.FunctionCall) goja.Value {
	nodes := e.bridge.query(e.Node, call.Argument(0).String(), true)
	if len(nodes) == 0 {
		return goja.Null()
	}
	return e.bridge.WrapNode(nodes[0])
}

func (e *Element) QuerySelectorAll(call goja.FunctionCall) goja.Value {
	return e.bridge.WrapNodeList(e.bridge.query(e.Node, call.Argument(0).String(), true))
}

func (e *Element) GetElementsByTagName(call goja.FunctionCall) goja.Value {
	tag := strings.ToLower(call.Argument(0).String())
	if tag != "*" && !isTagName(tag) {
		return e.bridge.vm.NewArray()
	}
	return e.findAll(".//" + tag)
}

func (e *Element) GetElementsByClassName(call goja.FunctionCall) goja.Value {
	return e.findAll(classXPath(".//", call.Argument(0).String()))
}

func (e *Element) findAll(xpath string) goja.Value {
	e.bridge.mu.RLock()
	nodes := htmlquery.Find(e.Node, xpath)
	e.bridge.mu.RUnlock()
	return e.bridge.WrapNodeList(nodes)
}

// eventMethod returns a method that fires a bubbling event of the given type at the
// element, as click() does in browsers.
func (e *Element) eventMethod(eventType string) func(goja.FunctionCall) goja.Value {
	return func(goja.FunctionCall) goja.Value {
		e.bridge.dispatch(e.bridge.pathFor(e.Node), e.bridge.newEvent(eventType, eventType != "focus" && eventType != "blur"))
		return goja.Undefined()
	}
}

// elementFor returns the wrapper of node, creating it if needed.
func (b *DOMBridge) elementFor(node *html.Node) *Element {
	b.idMu.Lock()
	defer b.idMu.Unlock()
	if e, ok := b.elements[node]; ok {
		return e
	}
	e := newElement(b, node)
	b.elements[node] = e
	b.objects[e.Object] = e
	return e
}
