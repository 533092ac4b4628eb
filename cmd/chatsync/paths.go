package main

import "tools.zach/dev/chatsync/internal/paths"

// DataPaths aliases [paths.DataDir] so daemon code can build file paths
// without qualifying the internal package.
type DataPaths = paths.DataDir
