package httpapi

import (
	"net/http"

	"golang.org/x/text/language"

	"cashclose/internal/service"
)

// English first: it is what the matcher falls back to.
var supportedLanguages = []language.Tag{
	language.English,
	language.Spanish,
}

var languageMatcher = language.NewMatcher(supportedLanguages)

const (
	msgClosureExists = "closure_exists"
	msgStorageError  = "storage_error"
	msgInternalError = "internal_error"
)

var messages = map[string]map[string]string{
	"en": {
		service.CodeBranchRequired:        "no branch selected",
		service.CodeDateRequired:          "date is required",
		service.CodeDateInvalid:           "date must be YYYY-MM-DD",
		service.CodeOpeningAmountRequired: "opening cash amount is required",
		service.CodeOpeningAmountInvalid:  "opening cash amount must not be negative",
		service.CodeStatusInvalid:         "status must be draft or closed",
		service.CodeLimitInvalid:          "limit must be between 1 and 366",
		msgClosureExists:                  "closure already exists for this date/branch",
		msgStorageError:                   "error querying the database",
		msgInternalError:                  "internal server error",
	},
	"es": {
		service.CodeBranchRequired:        "no hay sucursal seleccionada",
		service.CodeDateRequired:          "la fecha es obligatoria",
		service.CodeDateInvalid:           "la fecha debe tener el formato AAAA-MM-DD",
		service.CodeOpeningAmountRequired: "el monto de apertura de caja es obligatorio",
		service.CodeOpeningAmountInvalid:  "el monto de apertura de caja no puede ser negativo",
		service.CodeStatusInvalid:         "el estado debe ser draft o closed",
		service.CodeLimitInvalid:          "el límite debe estar entre 1 y 366",
		msgClosureExists:                  "ya existe un cierre para esta fecha/sucursal",
		msgStorageError:                   "error al consultar la base de datos",
		msgInternalError:                  "error interno del servidor",
	},
}

// requestLanguage picks the best supported language for the Accept-Language
// header, defaulting to English.
func requestLanguage(r *http.Request) string {
	tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language"))
	if err != nil || len(tags) == 0 {
		return "en"
	}
	_, idx, _ := languageMatcher.Match(tags...)
	base, _ := supportedLanguages[idx].Base()
	return base.String()
}

func localize(r *http.Request, key string) string {
	catalog, ok := messages[requestLanguage(r)]
	if !ok {
		catalog = messages["en"]
	}
	if msg, ok := catalog[key]; ok {
		return msg
	}
	return messages["en"][key]
}
