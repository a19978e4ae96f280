package jsbind

import (
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/dop251/goja"
	"golang.org/x/net/html"
)

// Document represents the HTML document object.
type Document struct {
	bridge     *DOMBridge
	Object     *goja.Object
	readyState string

	cookieNames []string
	cookies     map[string]string
}

func newDocument(bridge *DOMBridge) *Document {
	d := &Document{
		bridge:     bridge,
		readyState: "loading",
		cookies:    make(map[string]string),
	}
	d.Object = bridge.vm.NewObject()

	methods := map[string]func(goja.FunctionCall) goja.Value{
		"querySelector":          d.QuerySelector,
		"querySelectorAll":       d.QuerySelectorAll,
		"getElementById":         d.GetElementById,
		"getElementsByTagName":   d.GetElementsByTagName,
		"getElementsByClassName": d.GetElementsByClassName,
		"getElementsByName":      d.GetElementsByName,
		"createElement":          d.CreateElement,
		"createTextNode":         d.CreateTextNode,
	}
	for name, fn := range methods {
		_ = d.Object.Set(name, fn)
	}
	bridge.installEventTarget(d.Object, d, func() goja.Value { return d.Object })

	bridge.defineAccessor(d.Object, "body", func() goja.Value { return d.findOne("//body") }, nil)
	bridge.defineAccessor(d.Object, "head", func() goja.Value { return d.findOne("//head") }, nil)
	bridge.defineAccessor(d.Object, "documentElement", func() goja.Value { return d.findOne("/html") }, nil)
	bridge.defineAccessor(d.Object, "forms", func() goja.Value { return d.findAll("//form") }, nil)
	bridge.defineAccessor(d.Object, "title", func() goja.Value {
		title := d.findNode("//title")
		if title == nil {
			return bridge.vm.ToValue("")
		}
		return bridge.vm.ToValue(strings.TrimSpace(htmlquery.InnerText(title)))
	}, nil)
	bridge.defineAccessor(d.Object, "readyState", func() goja.Value { return bridge.vm.ToValue(d.readyState) }, nil)
	bridge.defineAccessor(d.Object, "URL", func() goja.Value { return bridge.vm.ToValue(bridge.window.location.href) }, nil)
	bridge.defineAccessor(d.Object, "location", func() goja.Value { return bridge.window.location.Object }, nil)
	bridge.defineAccessor(d.Object, "cookie", d.cookie, d.setCookie)

	return d
}

func (d *Document) findNode(xpath string) *html.Node {
	d.bridge.mu.RLock()
	defer d.bridge.mu.RUnlock()
	if d.bridge.root == nil {
		return nil
	}
	return htmlquery.FindOne(d.bridge.root, xpath)
}

func (d *Document) findOne(xpath string) goja.Value {
	return d.bridge.WrapNode(d.findNode(xpath))
}

func (d *Document) findAll(xpath string) goja.Value {
	d.bridge.mu.RLock()
	root := d.bridge.root
	var nodes []*html.Node
	if root != nil {
		nodes = htmlquery.Find(root, xpath)
	}
	d.bridge.mu.RUnlock()
	return d.bridge.WrapNodeList(nodes)
}

// QuerySelector finds the first element matching the CSS selector (translated to XPath).
func (d *Document) QuerySelector(call goja.FunctionCall) goja.Value {
	nodes := d.bridge.query(d.bridge.Root(), call.Argument(0).String(), false)
	if len(nodes) == 0 {
		return goja.Null()
	}
	return d.bridge.WrapNode(nodes[0])
}

// QuerySelectorAll finds all elements matching the CSS selector.
func (d *Document) QuerySelectorAll(call goja.FunctionCall) goja.Value {
	return d.bridge.WrapNodeList(d.bridge.query(d.bridge.Root(), call.Argument(0).String(), false))
}

// GetElementById finds an element by its ID.
func (d *Document) GetElementById(call goja.FunctionCall) goja.Value {
	return d.findOne("//*[@id=" + xpathLiteral(call.Argument(0).String()) + "]")
}

func (d *Document) GetElementsByTagName(call goja.FunctionCall) goja.Value {
	tag := strings.ToLower(call.Argument(0).String())
	if tag != "*" && !isTagName(tag) {
		return d.bridge.vm.NewArray()
	}
	return d.findAll("//" + tag)
}

func (d *Document) GetElementsByClassName(call goja.FunctionCall) goja.Value {
	return d.findAll(classXPath("//", call.Argument(0).String()))
}

func (d *Document) GetElementsByName(call goja.FunctionCall) goja.Value {
	return d.findAll("//*[@name=" + xpathLiteral(call.Argument(0).String()) + "]")
}

// CreateElement creates a new detached DOM node.
func (d *Document) CreateElement(call goja.FunctionCall) goja.Value {
	tag := strings.ToLower(call.Argument(0).String())
	if !isTagName(tag) {
		d.bridge.throw("SyntaxError", "'%s' is not a valid tag name", tag)
	}
	return d.bridge.WrapNode(&html.Node{Type: html.ElementNode, Data: tag})
}

// CreateTextNode creates a new detached text node.
func (d *Document) CreateTextNode(call goja.FunctionCall) goja.Value {
	return d.bridge.WrapNode(&html.Node{Type: html.TextNode, Data: call.Argument(0).String()})
}

func (d *Document) cookie() goja.Value {
	pairs := make([]string, 0, len(d.cookieNames))
	for _, name := range d.cookieNames {
		pairs = append(pairs, name+"="+d.cookies[name])
	}
	return d.bridge.vm.ToValue(strings.Join(pairs, "; "))
}

// setCookie stores the name=value pair of a cookie string; attributes are ignored.
func (d *Document) setCookie(v goja.Value) {
	pair, _, _ := strings.Cut(v.String(), ";")
	name, value, ok := strings.Cut(pair, "=")
	if !ok {
		name, value = "", pair
	}
	name = strings.TrimSpace(name)
	if _, seen := d.cookies[name]; !seen {
		d.cookieNames = append(d.cookieNames, name)
	}
	d.cookies[name] = strings.TrimSpace(value)
}

// classXPath matches elements carrying every class in a space-separated list.
func classXPath(prefix, classes string) string {
	fields := strings.Fields(classes)
	if len(fields) == 0 {
		return prefix + "*[false()]"
	}
	preds := make([]string, len(fields))
	for i, c := range fields {
		preds[i] = "contains(concat(' ', normalize-space(@class), ' '), " + xpathLiteral(" "+c+" ") + ")"
	}
	return prefix + "*[" + strings.Join(preds, " and ") + "]"
}

func isTagName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'a' && c <= 'z') && !(i > 0 && (c == '-' || (c >= '0' && c <= '9'))) {
			return false
		}
	}
	return true
}
