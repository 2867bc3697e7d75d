package main

import (
	"fmt"
	"net/http"
)

type healthController struct {
	brokers *registry
}

func (c healthController) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "Healthy\n%d active participants\n", c.brokers.count())
}
