package main

// General API documentation for swaggo. Run `make swagger-gen` to generate docs.
//
// @title           inferd API
// @version         1.0
// @description     HTTP API for ordered batch inference over local GGUF models.
//
// @contact.name   inferd maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
