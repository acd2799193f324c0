package assets

// Loader turns a file into engine data. The concrete type returned depends on the asset type:
// []byte for shaders, *ImageData for images.
type Loader interface {
	Load(path string) (interface{}, error)
}
