package earthengine

import (
	"encoding/json"
)

// Node is one value in an expression graph: a constant, a function
// invocation, or an array of nodes.
type Node struct {
	Constant   any         `json:"constantValue,omitempty"`
	Invocation *Invocation `json:"functionInvocationValue,omitempty"`
	Array      *ArrayValue `json:"arrayValue,omitempty"`
}

// Invocation calls a named server-side function.
type Invocation struct {
	FunctionName string           `json:"functionName"`
	Arguments    map[string]*Node `json:"arguments,omitempty"`
}

// ArrayValue is a list of nodes.
type ArrayValue struct {
	Values []*Node `json:"values"`
}

// Expression is the request envelope for a graph rooted at Result.
type Expression struct {
	Result string           `json:"result"`
	Values map[string]*Node `json:"values"`
}

// NewExpression wraps root as a single-node expression.
func NewExpression(root *Node) *Expression {
	return &Expression{Result: "0", Values: map[string]*Node{"0": root}}
}

// String renders the expression as JSON for logs and debugging.
func (e *Expression) String() string {
	b, err := json.Marshal(e)
	if err != nil {
		return "<invalid expression>"
	}
	return string(b)
}

// Const builds a constant node.
func Const(v any) *Node {
	return &Node{Constant: v}
}

// Call builds a function invocation node.
func Call(name string, args map[string]*Node) *Node {
	return &Node{Invocation: &Invocation{FunctionName: name, Arguments: args}}
}

// Array builds an array node.
func Array(values ...*Node) *Node {
	return &Node{Array: &ArrayValue{Values: values}}
}

// ImageLoad loads an image asset.
func ImageLoad(id string) *Node {
	return Call("Image.load", map[string]*Node{"id": Const(id)})
}

// Select keeps the named bands.
func Select(img *Node, bands ...string) *Node {
	return Call("Image.select", map[string]*Node{
		"input":         img,
		"bandSelectors": Const(bands),
	})
}

// Rename renames the image's bands.
func Rename(img *Node, names ...string) *Node {
	return Call("Image.rename", map[string]*Node{
		"input": img,
		"names": Const(names),
	})
}

// Remap substitutes from[i] with to[i]. Unlisted values become masked.
func Remap(img *Node, from, to []int) *Node {
	return Call("Image.remap", map[string]*Node{
		"image": img,
		"from":  Const(from),
		"to":    Const(to),
	})
}

// Unmask replaces masked pixels of img with the matching pixels of value.
func Unmask(img, value *Node) *Node {
	return Call("Image.unmask", map[string]*Node{
		"input": img,
		"value": value,
	})
}

// ImageConstant is a constant image.
func ImageConstant(v any) *Node {
	return Call("Image.constant", map[string]*Node{"value": Const(v)})
}

// Eq is 1 where img1 equals img2, else 0.
func Eq(img1, img2 *Node) *Node {
	return Call("Image.eq", map[string]*Node{"image1": img1, "image2": img2})
}

// Multiply multiplies two images pixel-wise.
func Multiply(img1, img2 *Node) *Node {
	return Call("Image.multiply", map[string]*Node{"image1": img1, "image2": img2})
}

// PixelArea is an image of per-pixel area in square meters.
func PixelArea() *Node {
	return Call("Image.pixelArea", nil)
}

// Clip masks img outside geometry.
func Clip(img, geometry *Node) *Node {
	return Call("Image.clip", map[string]*Node{"input": img, "geometry": geometry})
}

// BandNames lists the image's band names.
func BandNames(img *Node) *Node {
	return Call("Image.bandNames", map[string]*Node{"image": img})
}

// ReducerSum is the sum reducer.
func ReducerSum() *Node {
	return Call("Reducer.sum", nil)
}

// ReduceRegion applies reducer over geometry at scale meters. The result is
// a dictionary keyed by band name.
func ReduceRegion(img, reducer, geometry *Node, scale float64, maxPixels int64) *Node {
	return Call("Image.reduceRegion", map[string]*Node{
		"image":     img,
		"reducer":   reducer,
		"geometry":  geometry,
		"scale":     Const(scale),
		"maxPixels": Const(maxPixels),
	})
}

// MultiPolygon builds a geometry from lon/lat coordinates
// [polygon][ring][point][lon, lat].
func MultiPolygon(coords [][][][]float64) *Node {
	return Call("GeometryConstructors.MultiPolygon", map[string]*Node{
		"coordinates": Const(coords),
	})
}
