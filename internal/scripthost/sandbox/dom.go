package sandbox

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Namespace URIs understood by createElementNS / setAttributeNS
const (
	NamespaceHTML   = "http://www.w3.org/1999/xhtml"
	NamespaceSVG    = "http://www.w3.org/2000/svg"
	NamespaceMathML = "http://www.w3.org/1998/Math/MathML"
	NamespaceXLink  = "http://www.w3.org/1999/xlink"
	NamespaceXML    = "http://www.w3.org/XML/1998/namespace"
	NamespaceXMLNS  = "http://www.w3.org/2000/xmlns/"
)

// Node types as reported by Node.nodeType
const (
	ElementNodeType  = 1
	TextNodeType     = 3
	CommentNodeType  = 8
	DocumentNodeType = 9
	DoctypeNodeType  = 10
)

// compareDocumentPosition bits
const (
	PositionDisconnected = 0x01
	PositionPreceding    = 0x02
	PositionFollowing    = 0x04
	PositionContains     = 0x08
	PositionContainedBy  = 0x10
	PositionImplSpecific = 0x20
)

var (
	ErrHierarchy = errors.New("HierarchyRequestError: the operation would yield an incorrect node tree")
	ErrNotFound  = errors.New("NotFoundError: the node is not a child of this node")
)

// namespace short names used by x/net/html, keyed by URI
var namespaceNames = map[string]string{
	NamespaceHTML:   "",
	NamespaceSVG:    "svg",
	NamespaceMathML: "math",
	NamespaceXLink:  "xlink",
	NamespaceXML:    "xml",
	NamespaceXMLNS:  "xmlns",
}

var namespaceURIs = map[string]string{
	"":      NamespaceHTML,
	"svg":   NamespaceSVG,
	"math":  NamespaceMathML,
	"xlink": NamespaceXLink,
	"xml":   NamespaceXML,
	"xmlns": NamespaceXMLNS,
}

// Document is an HTML document tree that scripts manipulate through the
// DOM shim. It is not safe for concurrent use; a document belongs to the
// single runtime that created it.
type Document struct {
	root *html.Node
}

// DefaultHTML is the page installed as `document` before a script runs
const DefaultHTML = "<html><body></body></html>"

// ParseDocument parses src into a new document
func ParseDocument(src string) (*Document, error) {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return &Document{root: root}, nil
}

// Root returns the document node
func (d *Document) Root() *html.Node {
	return d.root
}

// DocumentElement returns the <html> element
func (d *Document) DocumentElement() *html.Node {
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

// Head returns the <head> element, if any
func (d *Document) Head() *html.Node {
	return childElement(d.DocumentElement(), "head")
}

// Body returns the <body> element, if any
func (d *Document) Body() *html.Node {
	return childElement(d.DocumentElement(), "body")
}

// CreateElement creates a detached HTML element
func (d *Document) CreateElement(name string) *html.Node {
	name = strings.ToLower(name)
	return &html.Node{
		Type:     html.ElementNode,
		Data:     name,
		DataAtom: atom.Lookup([]byte(name)),
	}
}

// CreateElementNS creates a detached element in the given namespace.
// A qualified name such as "svg:rect" drops its prefix.
func (d *Document) CreateElementNS(namespaceURI, qualifiedName string) *html.Node {
	ns, known := namespaceNames[namespaceURI]
	if !known {
		ns = namespaceURI
	}
	local := qualifiedName
	if i := strings.IndexByte(qualifiedName, ':'); i >= 0 {
		local = qualifiedName[i+1:]
	}
	if ns == "" {
		return d.CreateElement(local)
	}
	return &html.Node{
		Type:      html.ElementNode,
		Data:      local,
		Namespace: ns,
	}
}

// CreateTextNode creates a detached text node
func (d *Document) CreateTextNode(text string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: text}
}

// CreateComment creates a detached comment node
func (d *Document) CreateComment(text string) *html.Node {
	return &html.Node{Type: html.CommentNode, Data: text}
}

func childElement(parent *html.Node, name string) *html.Node {
	if parent == nil {
		return nil
	}
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == name && c.Namespace == "" {
			return c
		}
	}
	return nil
}

// NodeType maps an x/net/html node type to its DOM nodeType
func NodeType(n *html.Node) int {
	switch n.Type {
	case html.ElementNode:
		return ElementNodeType
	case html.TextNode:
		return TextNodeType
	case html.CommentNode:
		return CommentNodeType
	case html.DocumentNode:
		return DocumentNodeType
	case html.DoctypeNode:
		return DoctypeNodeType
	default:
		return 0
	}
}

// NodeName returns Node.nodeName
func NodeName(n *html.Node) string {
	switch n.Type {
	case html.ElementNode:
		return TagName(n)
	case html.TextNode:
		return "#text"
	case html.CommentNode:
		return "#comment"
	case html.DocumentNode:
		return "#document"
	case html.DoctypeNode:
		return n.Data
	default:
		return ""
	}
}

// TagName upper-cases HTML element names and keeps foreign names as written
func TagName(n *html.Node) string {
	if n.Namespace == "" {
		return strings.ToUpper(n.Data)
	}
	return n.Data
}

// NamespaceURI returns the element's namespace URI
func NamespaceURI(n *html.Node) string {
	if n.Type != html.ElementNode {
		return ""
	}
	if uri, ok := namespaceURIs[n.Namespace]; ok {
		return uri
	}
	return n.Namespace
}

// GetAttribute returns the attribute value and whether it is present.
// Qualified names ("xlink:href") match namespaced attributes.
func GetAttribute(n *html.Node, name string) (string, bool) {
	if i := attrIndex(n, name); i >= 0 {
		return n.Attr[i].Val, true
	}
	return "", false
}

// SetAttribute sets or replaces an attribute
func SetAttribute(n *html.Node, name, value string) {
	if n.Namespace == "" {
		name = strings.ToLower(name)
	}
	if i := attrIndex(n, name); i >= 0 {
		n.Attr[i].Val = value
		return
	}
	ns, key := splitQualified(name)
	n.Attr = append(n.Attr, html.Attribute{Namespace: ns, Key: key, Val: value})
}

// RemoveAttribute removes an attribute if present
func RemoveAttribute(n *html.Node, name string) {
	if i := attrIndex(n, name); i >= 0 {
		n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
	}
}

// GetAttributeNS looks an attribute up by namespace URI and local name
func GetAttributeNS(n *html.Node, namespaceURI, local string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == local && inNamespace(a, namespaceURI) {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttributeNS sets a namespaced attribute from a qualified name.
// Namespaces without a well-known prefix keep the caller's prefix.
func SetAttributeNS(n *html.Node, namespaceURI, qualifiedName, value string) {
	prefix, local := "", qualifiedName
	if i := strings.IndexByte(qualifiedName, ':'); i >= 0 {
		prefix, local = qualifiedName[:i], qualifiedName[i+1:]
	}
	ns, known := namespaceNames[namespaceURI]
	if !known {
		ns = prefix
	}
	if ns == "xmlns" && local == "xmlns" {
		ns = ""
	}
	for i, a := range n.Attr {
		if a.Namespace == ns && a.Key == local {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Namespace: ns, Key: local, Val: value})
}

// RemoveAttributeNS removes a namespaced attribute
func RemoveAttributeNS(n *html.Node, namespaceURI, local string) {
	for i, a := range n.Attr {
		if a.Key == local && inNamespace(a, namespaceURI) {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

// inNamespace reports whether a was stored under namespaceURI. Attributes
// from unknown namespaces are stored under their own prefix, so any
// prefix outside the well-known set matches an unknown URI.
func inNamespace(a html.Attribute, namespaceURI string) bool {
	if ns, ok := namespaceNames[namespaceURI]; ok {
		return a.Namespace == ns
	}
	_, known := namespaceURIs[a.Namespace]
	return a.Namespace == "" || !known
}

func splitQualified(name string) (string, string) {
	if i := strings.IndexByte(name, ':'); i > 0 {
		prefix := name[:i]
		if _, ok := namespaceURIs[prefix]; ok && prefix != "" {
			return prefix, name[i+1:]
		}
	}
	return "", name
}

func attrIndex(n *html.Node, name string) int {
	if n.Namespace == "" {
		name = strings.ToLower(name)
	}
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			return i
		}
		if a.Namespace != "" && a.Namespace+":"+a.Key == name {
			return i
		}
	}
	return -1
}

// TextContent concatenates all descendant text
func TextContent(n *html.Node) string {
	switch n.Type {
	case html.TextNode, html.CommentNode:
		return n.Data
	case html.DocumentNode, html.DoctypeNode:
		return ""
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			switch c.Type {
			case html.TextNode:
				sb.WriteString(c.Data)
			case html.ElementNode:
				walk(c)
			}
		}
	}
	walk(n)
	return sb.String()
}

// SetTextContent replaces all children with a single text node
func SetTextContent(n *html.Node, text string) {
	switch n.Type {
	case html.TextNode, html.CommentNode:
		n.Data = text
		return
	case html.DocumentNode:
		return
	}
	removeChildren(n)
	if text != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
}

func removeChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
}

// OuterHTML serializes the node and its subtree
func OuterHTML(n *html.Node) (string, error) {
	var sb strings.Builder
	if err := html.Render(&sb, n); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// InnerHTML serializes the node's children
func InnerHTML(n *html.Node) (string, error) {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&sb, c); err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}

// SetInnerHTML replaces the node's children with parsed markup
func SetInnerHTML(n *html.Node, markup string) error {
	if n.Type != html.ElementNode {
		return fmt.Errorf("%w: innerHTML requires an element", ErrHierarchy)
	}
	nodes, err := html.ParseFragment(strings.NewReader(markup), n)
	if err != nil {
		return fmt.Errorf("failed to parse markup: %w", err)
	}
	removeChildren(n)
	for _, c := range nodes {
		n.AppendChild(c)
	}
	return nil
}

// AppendChild moves child to the end of parent's children
func AppendChild(parent, child *html.Node) error {
	if err := checkInsert(parent, child); err != nil {
		return err
	}
	detach(child)
	parent.AppendChild(child)
	return nil
}

// InsertBefore moves child before ref; a nil ref appends
func InsertBefore(parent, child, ref *html.Node) error {
	if ref == nil {
		return AppendChild(parent, child)
	}
	if ref.Parent != parent {
		return ErrNotFound
	}
	if child == ref {
		return nil
	}
	if err := checkInsert(parent, child); err != nil {
		return err
	}
	detach(child)
	parent.InsertBefore(child, ref)
	return nil
}

// RemoveChild detaches child from parent
func RemoveChild(parent, child *html.Node) error {
	if child.Parent != parent {
		return ErrNotFound
	}
	parent.RemoveChild(child)
	return nil
}

// ReplaceChild swaps old for child in parent
func ReplaceChild(parent, child, old *html.Node) error {
	if old.Parent != parent {
		return ErrNotFound
	}
	if child == old {
		return nil
	}
	if err := checkInsert(parent, child); err != nil {
		return err
	}
	detach(child)
	parent.InsertBefore(child, old)
	parent.RemoveChild(old)
	return nil
}

func checkInsert(parent, child *html.Node) error {
	if parent.Type != html.ElementNode && parent.Type != html.DocumentNode {
		return ErrHierarchy
	}
	if child.Type == html.DocumentNode || Contains(child, parent) {
		return ErrHierarchy
	}
	return nil
}

func detach(n *html.Node) {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

// Contains reports whether other is n or one of its descendants
func Contains(n, other *html.Node) bool {
	for p := other; p != nil; p = p.Parent {
		if p == n {
			return true
		}
	}
	return false
}

// CompareDocumentPosition reports where other sits relative to n
func CompareDocumentPosition(n, other *html.Node) int {
	if n == other {
		return 0
	}
	if Contains(other, n) {
		return PositionContains | PositionPreceding
	}
	if Contains(n, other) {
		return PositionContainedBy | PositionFollowing
	}
	if treeRoot(n) != treeRoot(other) {
		return PositionDisconnected | PositionImplSpecific | PositionFollowing
	}

	for c := range treeRoot(n).Descendants() {
		switch c {
		case n:
			return PositionFollowing
		case other:
			return PositionPreceding
		}
	}
	return PositionDisconnected
}

func treeRoot(n *html.Node) *html.Node {
	for n.Parent != nil {
		n = n.Parent
	}
	return n
}

// CloneNode copies a node, with its subtree when deep is set
func CloneNode(n *html.Node, deep bool) *html.Node {
	clone := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	if deep {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			clone.AppendChild(CloneNode(c, true))
		}
	}
	return clone
}

// QuerySelectorAll returns descendants of n matching a CSS selector, in
// document order. Invalid selectors match nothing.
func QuerySelectorAll(n *html.Node, selector string) []*html.Node {
	return goquery.NewDocumentFromNode(n).Find(selector).Nodes
}

// QuerySelector returns the first descendant matching selector, or nil
func QuerySelector(n *html.Node, selector string) *html.Node {
	nodes := QuerySelectorAll(n, selector)
	if len(nodes) == 0 {
		return nil
	}
	return nodes[0]
}

// Matches reports whether the element itself matches selector
func Matches(n *html.Node, selector string) bool {
	return goquery.NewDocumentFromNode(n).Is(selector)
}

// GetElementByID finds the first descendant with the given id
func GetElementByID(n *html.Node, id string) *html.Node {
	for c := range n.Descendants() {
		if c.Type != html.ElementNode {
			continue
		}
		if v, ok := GetAttribute(c, "id"); ok && v == id {
			return c
		}
	}
	return nil
}

// ElementsByTagName returns descendants with the given tag ("*" for all)
func ElementsByTagName(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	for c := range n.Descendants() {
		if c.Type != html.ElementNode {
			continue
		}
		if tag == "*" || strings.EqualFold(c.Data, tag) {
			out = append(out, c)
		}
	}
	return out
}

// ElementsByClassName returns descendants carrying every listed class
func ElementsByClassName(n *html.Node, names string) []*html.Node {
	want := strings.Fields(names)
	if len(want) == 0 {
		return nil
	}
	var out []*html.Node
	for c := range n.Descendants() {
		if c.Type == html.ElementNode && hasClasses(c, want) {
			out = append(out, c)
		}
	}
	return out
}

func hasClasses(n *html.Node, want []string) bool {
	value, _ := GetAttribute(n, "class")
	have := strings.Fields(value)
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// styleDecl is one property of an inline style attribute
type styleDecl struct {
	name     string
	value    string
	priority string
}

func parseStyle(attr string) []styleDecl {
	var decls []styleDecl
	for _, part := range strings.Split(attr, ";") {
		name, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if name == "" {
			continue
		}
		priority := ""
		if v, found := strings.CutSuffix(value, "!important"); found {
			value = strings.TrimSpace(v)
			priority = "important"
		}
		decls = append(decls, styleDecl{name: name, value: value, priority: priority})
	}
	return decls
}

func formatStyle(decls []styleDecl) string {
	parts := make([]string, 0, len(decls))
	for _, d := range decls {
		s := d.name + ": " + d.value
		if d.priority != "" {
			s += " !" + d.priority
		}
		parts = append(parts, s+";")
	}
	return strings.Join(parts, " ")
}

// StyleProperty returns an inline style property value
func StyleProperty(n *html.Node, name string) string {
	attr, _ := GetAttribute(n, "style")
	name = strings.ToLower(name)
	for _, d := range parseStyle(attr) {
		if d.name == name {
			return d.value
		}
	}
	return ""
}

// StylePriority returns "important" when the property carries !important
func StylePriority(n *html.Node, name string) string {
	attr, _ := GetAttribute(n, "style")
	name = strings.ToLower(name)
	for _, d := range parseStyle(attr) {
		if d.name == name {
			return d.priority
		}
	}
	return ""
}

// SetStyleProperty sets an inline style property; an empty value removes it
func SetStyleProperty(n *html.Node, name, value, priority string) {
	if value == "" {
		RemoveStyleProperty(n, name)
		return
	}
	attr, _ := GetAttribute(n, "style")
	name = strings.ToLower(name)
	decls := parseStyle(attr)
	replaced := false
	for i := range decls {
		if decls[i].name == name {
			decls[i].value = value
			decls[i].priority = priority
			replaced = true
		}
	}
	if !replaced {
		decls = append(decls, styleDecl{name: name, value: value, priority: priority})
	}
	SetAttribute(n, "style", formatStyle(decls))
}

// RemoveStyleProperty deletes an inline style property and returns its old value
func RemoveStyleProperty(n *html.Node, name string) string {
	attr, ok := GetAttribute(n, "style")
	if !ok {
		return ""
	}
	name = strings.ToLower(name)
	decls := parseStyle(attr)
	old := ""
	kept := decls[:0]
	for _, d := range decls {
		if d.name == name {
			old = d.value
			continue
		}
		kept = append(kept, d)
	}
	if len(kept) == 0 {
		RemoveAttribute(n, "style")
	} else {
		SetAttribute(n, "style", formatStyle(kept))
	}
	return old
}

// StyleNames lists the inline style property names, sorted
func StyleNames(n *html.Node) []string {
	attr, _ := GetAttribute(n, "style")
	var names []string
	for _, d := range parseStyle(attr) {
		names = append(names, d.name)
	}
	sort.Strings(names)
	return names
}
