// Package pricelist serves the static price texts shown from the main menu.
package pricelist

import _ "embed"

//go:embed main_services.txt
var mainServices string

//go:embed ecp.txt
var ecp string

// MainServices returns the price list for the company's core services.
func MainServices() string { return mainServices }

// ECP returns the price list for digital-signature certificates.
func ECP() string { return ecp }
