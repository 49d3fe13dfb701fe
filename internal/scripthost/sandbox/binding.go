package sandbox

import (
	"github.com/dop251/goja"
	"golang.org/x/net/html"
)

// documentBinding ties a parsed document to its JS window object
type documentBinding struct {
	doc    *Document
	window *goja.Object
}

// domBinder exposes Document trees to one goja runtime. Every Go node maps
// to exactly one JS object so identity comparisons and expando properties
// (d3 keeps __data__ on nodes) behave as in a browser.
type domBinder struct {
	vm *goja.Runtime

	nodes   map[*goja.Object]*html.Node
	objects map[*html.Node]*goja.Object
	styles  map[*html.Node]*goja.Object
	docs    map[*html.Node]*documentBinding
	owners  map[*html.Node]*documentBinding

	nodeProto      *goja.Object
	elementProto   *goja.Object
	characterProto *goja.Object
	documentProto  *goja.Object
}

func newDOMBinder(vm *goja.Runtime) *domBinder {
	b := &domBinder{
		vm:      vm,
		nodes:   make(map[*goja.Object]*html.Node),
		objects: make(map[*html.Node]*goja.Object),
		styles:  make(map[*html.Node]*goja.Object),
		docs:    make(map[*html.Node]*documentBinding),
		owners:  make(map[*html.Node]*documentBinding),
	}
	b.setupNodeProto()
	b.setupElementProto()
	b.setupCharacterProto()
	b.setupDocumentProto()
	return b
}

// newDocument parses src and returns its JS binding
func (b *domBinder) newDocument(src string) (*documentBinding, error) {
	doc, err := ParseDocument(src)
	if err != nil {
		return nil, err
	}

	db := &documentBinding{doc: doc}
	b.docs[doc.Root()] = db

	window := b.vm.NewObject()
	document := b.object(doc.Root())
	_ = window.Set("document", document)
	_ = window.Set("window", window)
	_ = window.Set("self", window)
	_ = window.Set("getComputedStyle", func(call goja.FunctionCall) goja.Value {
		n := b.nodeArg(call.Argument(0))
		computed := b.vm.NewObject()
		_ = computed.Set("getPropertyValue", func(name string) string {
			return StyleProperty(n, name)
		})
		return computed
	})
	db.window = window

	return db, nil
}

// parseHTML implements linkedom's parseHTML(html) -> {document, window}
func (b *domBinder) parseHTML(call goja.FunctionCall) goja.Value {
	src := b.str(call.Argument(0))
	db, err := b.newDocument(src)
	if err != nil {
		panic(b.vm.NewGoError(err))
	}

	result := b.vm.NewObject()
	_ = result.Set("document", b.object(db.doc.Root()))
	_ = result.Set("window", db.window)
	return result
}

func (b *domBinder) object(n *html.Node) *goja.Object {
	if obj, ok := b.objects[n]; ok {
		return obj
	}

	obj := b.vm.NewObject()
	switch n.Type {
	case html.DocumentNode:
		_ = obj.SetPrototype(b.documentProto)
	case html.ElementNode:
		_ = obj.SetPrototype(b.elementProto)
	case html.TextNode, html.CommentNode:
		_ = obj.SetPrototype(b.characterProto)
	default:
		_ = obj.SetPrototype(b.nodeProto)
	}

	b.objects[n] = obj
	b.nodes[obj] = n
	return obj
}

func (b *domBinder) wrap(n *html.Node) goja.Value {
	if n == nil {
		return goja.Null()
	}
	return b.object(n)
}

func (b *domBinder) list(nodes []*html.Node) goja.Value {
	items := make([]interface{}, len(nodes))
	for i, n := range nodes {
		items[i] = b.object(n)
	}
	return b.vm.NewArray(items...)
}

func (b *domBinder) this(call goja.FunctionCall) *html.Node {
	if obj, ok := call.This.(*goja.Object); ok {
		if n, ok := b.nodes[obj]; ok {
			return n
		}
	}
	panic(b.vm.NewTypeError("Illegal invocation"))
}

func (b *domBinder) nodeArg(v goja.Value) *html.Node {
	if obj, ok := v.(*goja.Object); ok {
		if n, ok := b.nodes[obj]; ok {
			return n
		}
	}
	panic(b.vm.NewTypeError("parameter is not of type 'Node'"))
}

func (b *domBinder) optionalNodeArg(v goja.Value) *html.Node {
	if isNullish(v) {
		return nil
	}
	return b.nodeArg(v)
}

// str coerces a JS value to a string, mapping null and undefined to ""
func (b *domBinder) str(v goja.Value) string {
	if isNullish(v) {
		return ""
	}
	return v.String()
}

func (b *domBinder) check(err error) {
	if err != nil {
		panic(b.vm.NewGoError(err))
	}
}

func isNullish(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}

// documentOf finds the document a node belongs to
func (b *domBinder) documentOf(n *html.Node) *documentBinding {
	root := treeRoot(n)
	if db, ok := b.docs[root]; ok {
		return db
	}
	return b.owners[root]
}

func (b *domBinder) adopt(n *html.Node, db *documentBinding) *html.Node {
	if db != nil {
		b.owners[n] = db
	}
	return n
}

func (b *domBinder) method(proto *goja.Object, name string, fn func(n *html.Node, call goja.FunctionCall) goja.Value) {
	_ = proto.Set(name, func(call goja.FunctionCall) goja.Value {
		return fn(b.this(call), call)
	})
}

func (b *domBinder) accessor(proto *goja.Object, name string, get func(n *html.Node) goja.Value, set func(n *html.Node, v goja.Value)) {
	getter := b.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		return get(b.this(call))
	})

	var setter goja.Value
	if set != nil {
		setter = b.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			set(b.this(call), call.Argument(0))
			return goja.Undefined()
		})
	}

	_ = proto.DefineAccessorProperty(name, getter, setter, goja.FLAG_TRUE, goja.FLAG_TRUE)
}

func (b *domBinder) setupNodeProto() {
	p := b.vm.NewObject()
	b.nodeProto = p

	for name, value := range map[string]int{
		"ELEMENT_NODE":                              ElementNodeType,
		"TEXT_NODE":                                 TextNodeType,
		"COMMENT_NODE":                              CommentNodeType,
		"DOCUMENT_NODE":                             DocumentNodeType,
		"DOCUMENT_POSITION_DISCONNECTED":            PositionDisconnected,
		"DOCUMENT_POSITION_PRECEDING":               PositionPreceding,
		"DOCUMENT_POSITION_FOLLOWING":               PositionFollowing,
		"DOCUMENT_POSITION_CONTAINS":                PositionContains,
		"DOCUMENT_POSITION_CONTAINED_BY":            PositionContainedBy,
		"DOCUMENT_POSITION_IMPLEMENTATION_SPECIFIC": PositionImplSpecific,
	} {
		_ = p.Set(name, value)
	}

	b.accessor(p, "nodeType", func(n *html.Node) goja.Value {
		return b.vm.ToValue(NodeType(n))
	}, nil)
	b.accessor(p, "nodeName", func(n *html.Node) goja.Value {
		return b.vm.ToValue(NodeName(n))
	}, nil)
	b.accessor(p, "parentNode", func(n *html.Node) goja.Value {
		return b.wrap(n.Parent)
	}, nil)
	b.accessor(p, "parentElement", func(n *html.Node) goja.Value {
		if n.Parent == nil || n.Parent.Type != html.ElementNode {
			return goja.Null()
		}
		return b.wrap(n.Parent)
	}, nil)
	b.accessor(p, "childNodes", func(n *html.Node) goja.Value {
		var children []*html.Node
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			children = append(children, c)
		}
		return b.list(children)
	}, nil)
	b.accessor(p, "firstChild", func(n *html.Node) goja.Value {
		return b.wrap(n.FirstChild)
	}, nil)
	b.accessor(p, "lastChild", func(n *html.Node) goja.Value {
		return b.wrap(n.LastChild)
	}, nil)
	b.accessor(p, "nextSibling", func(n *html.Node) goja.Value {
		return b.wrap(n.NextSibling)
	}, nil)
	b.accessor(p, "previousSibling", func(n *html.Node) goja.Value {
		return b.wrap(n.PrevSibling)
	}, nil)
	b.accessor(p, "ownerDocument", func(n *html.Node) goja.Value {
		if n.Type == html.DocumentNode {
			return goja.Null()
		}
		db := b.documentOf(n)
		if db == nil {
			return goja.Null()
		}
		return b.object(db.doc.Root())
	}, nil)
	b.accessor(p, "isConnected", func(n *html.Node) goja.Value {
		_, ok := b.docs[treeRoot(n)]
		return b.vm.ToValue(ok)
	}, nil)
	b.accessor(p, "textContent", func(n *html.Node) goja.Value {
		if n.Type == html.DocumentNode {
			return goja.Null()
		}
		return b.vm.ToValue(TextContent(n))
	}, func(n *html.Node, v goja.Value) {
		SetTextContent(n, b.str(v))
	})

	b.method(p, "appendChild", func(n *html.Node, call goja.FunctionCall) goja.Value {
		child := b.nodeArg(call.Argument(0))
		b.check(AppendChild(n, child))
		return call.Argument(0)
	})
	b.method(p, "insertBefore", func(n *html.Node, call goja.FunctionCall) goja.Value {
		child := b.nodeArg(call.Argument(0))
		ref := b.optionalNodeArg(call.Argument(1))
		b.check(InsertBefore(n, child, ref))
		return call.Argument(0)
	})
	b.method(p, "removeChild", func(n *html.Node, call goja.FunctionCall) goja.Value {
		child := b.nodeArg(call.Argument(0))
		owner := b.documentOf(n)
		b.check(RemoveChild(n, child))
		b.adopt(child, owner)
		return call.Argument(0)
	})
	b.method(p, "replaceChild", func(n *html.Node, call goja.FunctionCall) goja.Value {
		child := b.nodeArg(call.Argument(0))
		old := b.nodeArg(call.Argument(1))
		owner := b.documentOf(n)
		b.check(ReplaceChild(n, child, old))
		b.adopt(old, owner)
		return call.Argument(1)
	})
	b.method(p, "remove", func(n *html.Node, call goja.FunctionCall) goja.Value {
		if n.Parent != nil {
			owner := b.documentOf(n)
			n.Parent.RemoveChild(n)
			b.adopt(n, owner)
		}
		return goja.Undefined()
	})
	b.method(p, "contains", func(n *html.Node, call goja.FunctionCall) goja.Value {
		other := b.optionalNodeArg(call.Argument(0))
		return b.vm.ToValue(other != nil && Contains(n, other))
	})
	b.method(p, "compareDocumentPosition", func(n *html.Node, call goja.FunctionCall) goja.Value {
		return b.vm.ToValue(CompareDocumentPosition(n, b.nodeArg(call.Argument(0))))
	})
	b.method(p, "cloneNode", func(n *html.Node, call goja.FunctionCall) goja.Value {
		if n.Type == html.DocumentNode {
			panic(b.vm.NewTypeError("cloning documents is not supported"))
		}
		clone := CloneNode(n, call.Argument(0).ToBoolean())
		return b.wrap(b.adopt(clone, b.documentOf(n)))
	})
	b.method(p, "hasChildNodes", func(n *html.Node, call goja.FunctionCall) goja.Value {
		return b.vm.ToValue(n.FirstChild != nil)
	})

	// Events never fire outside a browser; listeners are accepted and ignored
	noop := func(n *html.Node, call goja.FunctionCall) goja.Value { return goja.Undefined() }
	b.method(p, "addEventListener", noop)
	b.method(p, "removeEventListener", noop)
	b.method(p, "dispatchEvent", func(n *html.Node, call goja.FunctionCall) goja.Value {
		return b.vm.ToValue(true)
	})
}

func (b *domBinder) setupElementProto() {
	p := b.vm.NewObject()
	_ = p.SetPrototype(b.nodeProto)
	b.elementProto = p

	b.accessor(p, "tagName", func(n *html.Node) goja.Value {
		return b.vm.ToValue(TagName(n))
	}, nil)
	b.accessor(p, "localName", func(n *html.Node) goja.Value {
		return b.vm.ToValue(n.Data)
	}, nil)
	b.accessor(p, "namespaceURI", func(n *html.Node) goja.Value {
		return b.vm.ToValue(NamespaceURI(n))
	}, nil)
	b.accessor(p, "id", func(n *html.Node) goja.Value {
		v, _ := GetAttribute(n, "id")
		return b.vm.ToValue(v)
	}, func(n *html.Node, v goja.Value) {
		SetAttribute(n, "id", b.str(v))
	})
	b.accessor(p, "className", func(n *html.Node) goja.Value {
		v, _ := GetAttribute(n, "class")
		return b.vm.ToValue(v)
	}, func(n *html.Node, v goja.Value) {
		SetAttribute(n, "class", b.str(v))
	})
	b.accessor(p, "innerHTML", func(n *html.Node) goja.Value {
		s, err := InnerHTML(n)
		b.check(err)
		return b.vm.ToValue(s)
	}, func(n *html.Node, v goja.Value) {
		b.check(SetInnerHTML(n, b.str(v)))
	})
	b.accessor(p, "outerHTML", func(n *html.Node) goja.Value {
		s, err := OuterHTML(n)
		b.check(err)
		return b.vm.ToValue(s)
	}, nil)
	b.accessor(p, "children", func(n *html.Node) goja.Value {
		return b.list(childElements(n))
	}, nil)
	b.accessor(p, "childElementCount", func(n *html.Node) goja.Value {
		return b.vm.ToValue(len(childElements(n)))
	}, nil)
	b.accessor(p, "firstElementChild", func(n *html.Node) goja.Value {
		children := childElements(n)
		if len(children) == 0 {
			return goja.Null()
		}
		return b.wrap(children[0])
	}, nil)
	b.accessor(p, "lastElementChild", func(n *html.Node) goja.Value {
		children := childElements(n)
		if len(children) == 0 {
			return goja.Null()
		}
		return b.wrap(children[len(children)-1])
	}, nil)
	b.accessor(p, "style", func(n *html.Node) goja.Value {
		return b.style(n)
	}, nil)

	b.method(p, "getAttribute", func(n *html.Node, call goja.FunctionCall) goja.Value {
		v, ok := GetAttribute(n, call.Argument(0).String())
		if !ok {
			return goja.Null()
		}
		return b.vm.ToValue(v)
	})
	b.method(p, "setAttribute", func(n *html.Node, call goja.FunctionCall) goja.Value {
		SetAttribute(n, call.Argument(0).String(), call.Argument(1).String())
		return goja.Undefined()
	})
	b.method(p, "hasAttribute", func(n *html.Node, call goja.FunctionCall) goja.Value {
		_, ok := GetAttribute(n, call.Argument(0).String())
		return b.vm.ToValue(ok)
	})
	b.method(p, "removeAttribute", func(n *html.Node, call goja.FunctionCall) goja.Value {
		RemoveAttribute(n, call.Argument(0).String())
		return goja.Undefined()
	})
	b.method(p, "getAttributeNS", func(n *html.Node, call goja.FunctionCall) goja.Value {
		v, ok := GetAttributeNS(n, b.str(call.Argument(0)), call.Argument(1).String())
		if !ok {
			return goja.Null()
		}
		return b.vm.ToValue(v)
	})
	b.method(p, "setAttributeNS", func(n *html.Node, call goja.FunctionCall) goja.Value {
		SetAttributeNS(n, b.str(call.Argument(0)), call.Argument(1).String(), call.Argument(2).String())
		return goja.Undefined()
	})
	b.method(p, "hasAttributeNS", func(n *html.Node, call goja.FunctionCall) goja.Value {
		_, ok := GetAttributeNS(n, b.str(call.Argument(0)), call.Argument(1).String())
		return b.vm.ToValue(ok)
	})
	b.method(p, "removeAttributeNS", func(n *html.Node, call goja.FunctionCall) goja.Value {
		RemoveAttributeNS(n, b.str(call.Argument(0)), call.Argument(1).String())
		return goja.Undefined()
	})
	b.method(p, "matches", func(n *html.Node, call goja.FunctionCall) goja.Value {
		return b.vm.ToValue(Matches(n, call.Argument(0).String()))
	})
	b.method(p, "closest", func(n *html.Node, call goja.FunctionCall) goja.Value {
		selector := call.Argument(0).String()
		for c := n; c != nil && c.Type == html.ElementNode; c = c.Parent {
			if Matches(c, selector) {
				return b.wrap(c)
			}
		}
		return goja.Null()
	})
	b.method(p, "getBoundingClientRect", func(n *html.Node, call goja.FunctionCall) goja.Value {
		// No layout engine; report an empty box like other headless DOMs do
		rect := b.vm.NewObject()
		for _, k := range []string{"x", "y", "top", "left", "right", "bottom", "width", "height"} {
			_ = rect.Set(k, 0)
		}
		return rect
	})
	b.defineQueries(p)
}

func (b *domBinder) setupCharacterProto() {
	p := b.vm.NewObject()
	_ = p.SetPrototype(b.nodeProto)
	b.characterProto = p

	data := func(n *html.Node) goja.Value { return b.vm.ToValue(n.Data) }
	setData := func(n *html.Node, v goja.Value) { n.Data = b.str(v) }
	b.accessor(p, "data", data, setData)
	b.accessor(p, "nodeValue", data, setData)
	b.accessor(p, "length", func(n *html.Node) goja.Value {
		return b.vm.ToValue(len([]rune(n.Data)))
	}, nil)
}

func (b *domBinder) setupDocumentProto() {
	p := b.vm.NewObject()
	_ = p.SetPrototype(b.nodeProto)
	b.documentProto = p

	doc := func(n *html.Node) *documentBinding {
		db, ok := b.docs[n]
		if !ok {
			panic(b.vm.NewTypeError("Illegal invocation"))
		}
		return db
	}

	b.accessor(p, "documentElement", func(n *html.Node) goja.Value {
		return b.wrap(doc(n).doc.DocumentElement())
	}, nil)
	b.accessor(p, "head", func(n *html.Node) goja.Value {
		return b.wrap(doc(n).doc.Head())
	}, nil)
	b.accessor(p, "body", func(n *html.Node) goja.Value {
		return b.wrap(doc(n).doc.Body())
	}, nil)
	b.accessor(p, "defaultView", func(n *html.Node) goja.Value {
		return doc(n).window
	}, nil)

	b.method(p, "createElement", func(n *html.Node, call goja.FunctionCall) goja.Value {
		db := doc(n)
		return b.wrap(b.adopt(db.doc.CreateElement(call.Argument(0).String()), db))
	})
	b.method(p, "createElementNS", func(n *html.Node, call goja.FunctionCall) goja.Value {
		db := doc(n)
		el := db.doc.CreateElementNS(b.str(call.Argument(0)), call.Argument(1).String())
		return b.wrap(b.adopt(el, db))
	})
	b.method(p, "createTextNode", func(n *html.Node, call goja.FunctionCall) goja.Value {
		db := doc(n)
		return b.wrap(b.adopt(db.doc.CreateTextNode(b.str(call.Argument(0))), db))
	})
	b.method(p, "createComment", func(n *html.Node, call goja.FunctionCall) goja.Value {
		db := doc(n)
		return b.wrap(b.adopt(db.doc.CreateComment(b.str(call.Argument(0))), db))
	})
	b.method(p, "getElementById", func(n *html.Node, call goja.FunctionCall) goja.Value {
		return b.wrap(GetElementByID(n, call.Argument(0).String()))
	})
	b.defineQueries(p)
}

// defineQueries adds the selector methods shared by documents and elements
func (b *domBinder) defineQueries(p *goja.Object) {
	b.method(p, "querySelector", func(n *html.Node, call goja.FunctionCall) goja.Value {
		return b.wrap(QuerySelector(n, call.Argument(0).String()))
	})
	b.method(p, "querySelectorAll", func(n *html.Node, call goja.FunctionCall) goja.Value {
		return b.list(QuerySelectorAll(n, call.Argument(0).String()))
	})
	b.method(p, "getElementsByTagName", func(n *html.Node, call goja.FunctionCall) goja.Value {
		return b.list(ElementsByTagName(n, call.Argument(0).String()))
	})
	b.method(p, "getElementsByClassName", func(n *html.Node, call goja.FunctionCall) goja.Value {
		return b.list(ElementsByClassName(n, call.Argument(0).String()))
	})
}

// style returns the element's CSSStyleDeclaration stand-in
func (b *domBinder) style(n *html.Node) *goja.Object {
	if s, ok := b.styles[n]; ok {
		return s
	}

	s := b.vm.NewObject()
	_ = s.Set("getPropertyValue", func(call goja.FunctionCall) goja.Value {
		return b.vm.ToValue(StyleProperty(n, b.str(call.Argument(0))))
	})
	_ = s.Set("getPropertyPriority", func(call goja.FunctionCall) goja.Value {
		return b.vm.ToValue(StylePriority(n, b.str(call.Argument(0))))
	})
	_ = s.Set("setProperty", func(call goja.FunctionCall) goja.Value {
		SetStyleProperty(n, b.str(call.Argument(0)), b.str(call.Argument(1)), b.str(call.Argument(2)))
		return goja.Undefined()
	})
	_ = s.Set("removeProperty", func(call goja.FunctionCall) goja.Value {
		return b.vm.ToValue(RemoveStyleProperty(n, b.str(call.Argument(0))))
	})
	_ = s.DefineAccessorProperty("cssText",
		b.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			v, _ := GetAttribute(n, "style")
			return b.vm.ToValue(v)
		}),
		b.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			if text := b.str(call.Argument(0)); text != "" {
				SetAttribute(n, "style", formatStyle(parseStyle(text)))
			} else {
				RemoveAttribute(n, "style")
			}
			return goja.Undefined()
		}),
		goja.FLAG_TRUE, goja.FLAG_TRUE)

	b.styles[n] = s
	return s
}

func childElements(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	return out
}
