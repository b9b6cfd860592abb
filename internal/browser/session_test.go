package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLooksLikeXPath(t *testing.T) {
	cases := []struct {
		selector string
		want     bool
	}{
		{".error-page", false},
		{"#error-container", false},
		{"a[href='x']", false},
		{"//div[@class='error-page']", true},
		{"/html/body/div", true},
		{"(//a)[1]", true},
	}

	for _, c := range cases {
		assert.Equal(t, c.want, looksLikeXPath(c.selector), "selector=%q", c.selector)
	}
}
