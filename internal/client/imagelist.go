package client

// ImageList is the ordered sequence of decoded images. It is not
// synchronized; a Form owns it and applies mutations one at a time.
//
// Every positional operation checks the index against the current length
// and reports false, changing nothing, when it is out of range.
type ImageList struct {
	images []Image
}

// Append adds img at the end regardless of which selection it came from.
func (l *ImageList) Append(img Image) {
	l.images = append(l.images, img)
}

// MoveLeft swaps the image at i with its predecessor.
func (l *ImageList) MoveLeft(i int) bool {
	if !l.CanMoveLeft(i) {
		return false
	}
	l.images[i-1], l.images[i] = l.images[i], l.images[i-1]
	return true
}

// MoveRight swaps the image at i with its successor.
func (l *ImageList) MoveRight(i int) bool {
	if !l.CanMoveRight(i) {
		return false
	}
	l.images[i], l.images[i+1] = l.images[i+1], l.images[i]
	return true
}

// Remove splices out the image at i.
func (l *ImageList) Remove(i int) bool {
	if i < 0 || i >= len(l.images) {
		return false
	}
	l.images = append(l.images[:i], l.images[i+1:]...)
	return true
}

// CanMoveLeft reports whether the move-left control at i is enabled.
func (l *ImageList) CanMoveLeft(i int) bool {
	return i > 0 && i < len(l.images)
}

// CanMoveRight reports whether the move-right control at i is enabled.
func (l *ImageList) CanMoveRight(i int) bool {
	return i >= 0 && i < len(l.images)-1
}

func (l *ImageList) Len() int {
	return len(l.images)
}

// Images returns a copy of the current order.
func (l *ImageList) Images() []Image {
	out := make([]Image, len(l.images))
	copy(out, l.images)
	return out
}
