package propagation

// Chunkify splits items into exactly max(n, 1) contiguous chunks whose sizes
// differ by at most one. Earlier chunks take the remainder, so [1..10] into 3
// gives sizes 4, 3, 3. Chunks share the backing array of items.
func Chunkify[T any](items []T, n int) [][]T {
	if n < 1 {
		n = 1
	}
	size, rem := len(items)/n, len(items)%n

	chunks := make([][]T, n)
	start := 0
	for i := range chunks {
		end := start + size
		if i < rem {
			end++
		}
		chunks[i] = items[start:end:end]
		start = end
	}
	return chunks
}
