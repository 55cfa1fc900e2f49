package main

import (
	"fmt"
	"net/http"

	"github.com/rs/cors"

	"github.com/mcdev12/sprintpoker/go/internal/gateway"
	"github.com/mcdev12/sprintpoker/go/internal/httpapi"
)

func setupServer(port string, api *httpapi.Handler, ws *gateway.WebSocketHandler) *http.Server {
	mux := http.NewServeMux()

	api.RegisterRoutes(mux)
	ws.RegisterRoutes(mux)

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%s", port),
		Handler: c.Handler(mux),
	}
}
