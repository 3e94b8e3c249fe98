// Command dalctl opera a camada de dados pela linha de comando: locks,
// consulta de rate limit, ping dos backends e a configuração efetiva.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
