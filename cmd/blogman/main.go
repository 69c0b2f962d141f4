// Command blogman はブログAPIサーバー、クリーンアップワーカー、マイグレーションを
// サブコマンドで切り替えて起動する。
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/blogman/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "blogman: %v\n", err)
		os.Exit(1)
	}
}
