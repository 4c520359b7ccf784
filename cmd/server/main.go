// @title                       CampusPay Auth API
// @version                     1.0
// @description                 OTP-gated signup and login for CampusPay.
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
package main

import "campuspay/internal/app"

func main() {
	app.Run()
}
