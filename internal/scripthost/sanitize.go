package scripthost

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// svgElements are the elements chart scripts emit
var svgElements = []string{
	"svg", "g", "defs", "title", "desc", "path", "line", "polyline", "polygon",
	"rect", "circle", "ellipse", "text", "tspan", "clippath", "lineargradient",
	"radialgradient", "stop", "use", "marker", "symbol",
}

var svgAttributes = []string{
	"xmlns", "version", "id", "class", "width", "height", "viewbox", "preserveaspectratio",
	"transform", "x", "y", "x1", "y1", "x2", "y2", "cx", "cy", "r", "rx", "ry", "d",
	"points", "dx", "dy", "fill", "fill-opacity", "stroke", "stroke-width",
	"stroke-opacity", "stroke-dasharray", "stroke-linecap", "stroke-linejoin",
	"opacity", "font-family", "font-size", "font-weight", "text-anchor",
	"dominant-baseline", "clip-path", "offset", "stop-color", "stop-opacity",
	"gradientunits", "marker-end", "marker-start", "markerwidth", "markerheight",
	"refx", "refy", "orient",
}

// Only fragment and http(s) references survive on linking elements
var safeHref = regexp.MustCompile(`^(#|https?://)[^\s]*$`)

// The HTML tokenizer lowercases names; SVG consumers are case-sensitive
var svgCase = strings.NewReplacer(
	" viewbox=", " viewBox=",
	" preserveaspectratio=", " preserveAspectRatio=",
	" gradientunits=", " gradientUnits=",
	" markerwidth=", " markerWidth=",
	" markerheight=", " markerHeight=",
	" refx=", " refX=",
	" refy=", " refY=",
	"<clippath", "<clipPath",
	"</clippath>", "</clipPath>",
	"<lineargradient", "<linearGradient",
	"</lineargradient>", "</linearGradient>",
	"<radialgradient", "<radialGradient",
	"</radialgradient>", "</radialGradient>",
)

// Sanitizer strips script output down to static SVG markup
type Sanitizer struct {
	policy *bluemonday.Policy
}

// NewSanitizer builds the SVG allow-list policy
func NewSanitizer() *Sanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements(svgElements...)
	p.AllowAttrs(svgAttributes...).Globally()
	p.AllowAttrs("href").Matching(safeHref).OnElements("use", "lineargradient", "radialgradient")
	p.AllowURLSchemes("http", "https")
	p.AllowRelativeURLs(true)

	return &Sanitizer{policy: p}
}

// Sanitize removes scripts, event handlers, style attributes and unknown
// elements while keeping drawing markup
func (s *Sanitizer) Sanitize(markup string) string {
	return svgCase.Replace(s.policy.Sanitize(markup))
}
