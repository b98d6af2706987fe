package memory

import (
	"testing"

	"github.com/marmos91/authproxy/pkg/store/content"
	storetesting "github.com/marmos91/authproxy/pkg/store/content/testing"
)

func TestStore(t *testing.T) {
	suite := &storetesting.StoreTestSuite{
		NewStore: func(*testing.T) content.Store { return New() },
	}
	suite.Run(t)
}
