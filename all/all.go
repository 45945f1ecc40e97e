// Package all imports all supported feed implementations.
//
// Import this package for its side effects to register every feed type:
//
//	import (
//		"github.com/git-pkgs/upack"
//		_ "github.com/git-pkgs/upack/all"
//	)
//
//	// Now all feed types are available
//	types := upack.SupportedFeedTypes()
//	// ["dir", "upack"]
package all

import (
	_ "github.com/git-pkgs/upack/internal/dirfeed"
	_ "github.com/git-pkgs/upack/internal/upackfeed"
)
