package diagram

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderImagePNG(t *testing.T) {
	model, err := Build("orders", linearMachine(t), linearSummaries())
	require.NoError(t, err)

	png, err := RenderImage(context.Background(), model, ImagePNG)
	require.NoError(t, err)
	require.Greater(t, len(png), 8)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
}

func TestRenderImageSVGNested(t *testing.T) {
	model, err := Build("", nestedMachine(t), nil)
	require.NoError(t, err)

	svg, err := RenderImage(context.Background(), model, ImageSVG)
	require.NoError(t, err)
	assert.Contains(t, string(svg), "<svg")
	assert.Contains(t, string(svg), "Fan: branch_0")
}

func TestRenderImageDOT(t *testing.T) {
	model, err := Build("", choiceMachine(t), nil)
	require.NoError(t, err)

	dot, err := RenderImage(context.Background(), model, ImageDOT)
	require.NoError(t, err)
	assert.Contains(t, string(dot), "digraph")
	assert.Contains(t, string(dot), "Route")
}

func TestRenderImageUnknownFormat(t *testing.T) {
	model, err := Build("", linearMachine(t), nil)
	require.NoError(t, err)

	_, err = RenderImage(context.Background(), model, "gif")
	assert.ErrorContains(t, err, "unsupported image format")
}
