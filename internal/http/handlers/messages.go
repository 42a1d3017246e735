package handlers

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

const (
	codeBadRequest          = "bad_request"
	codeInvalidImage        = "invalid_image"
	codeInvalidPrompt       = "invalid_prompt"
	codeTooLarge            = "payload_too_large"
	codeDimensionMismatch   = "mask_dimension_mismatch"
	codeUnsupportedProvider = "unsupported_provider"
	codeProviderUnavailable = "provider_unavailable"
	codeProviderFailure     = "provider_failure"
	codeNotFound            = "not_found"
	codeNoImage             = "no_image"
	codeInternal            = "internal"
)

var messages = []struct {
	key          string
	translations map[language.Tag]string
}{
	{codeBadRequest, map[language.Tag]string{
		language.English:    "The request could not be read.",
		language.Indonesian: "Permintaan tidak dapat dibaca.",
		language.Spanish:    "No se pudo leer la solicitud.",
		language.German:     "Die Anfrage konnte nicht gelesen werden.",
		language.French:     "La requête est illisible.",
	}},
	{codeInvalidImage, map[language.Tag]string{
		language.English:    "Upload a PNG, JPEG or WebP image.",
		language.Indonesian: "Unggah gambar PNG, JPEG, atau WebP.",
		language.Spanish:    "Sube una imagen PNG, JPEG o WebP.",
		language.German:     "Bitte ein PNG-, JPEG- oder WebP-Bild hochladen.",
		language.French:     "Envoyez une image PNG, JPEG ou WebP.",
	}},
	{codeInvalidPrompt, map[language.Tag]string{
		language.English:    "A prompt is required.",
		language.Indonesian: "Prompt wajib diisi.",
		language.Spanish:    "Se requiere una descripción.",
		language.German:     "Ein Prompt ist erforderlich.",
		language.French:     "Une description est requise.",
	}},
	{codeTooLarge, map[language.Tag]string{
		language.English:    "The upload is too large.",
		language.Indonesian: "Ukuran unggahan terlalu besar.",
		language.Spanish:    "El archivo es demasiado grande.",
		language.German:     "Die Datei ist zu groß.",
		language.French:     "Le fichier est trop volumineux.",
	}},
	{codeDimensionMismatch, map[language.Tag]string{
		language.English:    "The mask is %dx%d but the image is %dx%d. Redraw the mask on this image.",
		language.Indonesian: "Mask berukuran %dx%d tetapi gambar %dx%d. Gambar ulang mask pada gambar ini.",
		language.Spanish:    "La máscara mide %dx%d pero la imagen %dx%d. Vuelve a dibujar la máscara.",
		language.German:     "Die Maske ist %dx%d, das Bild aber %dx%d. Bitte die Maske neu zeichnen.",
		language.French:     "Le masque fait %dx%d mais l'image %dx%d. Redessinez le masque.",
	}},
	{codeUnsupportedProvider, map[language.Tag]string{
		language.English:    "This provider is not supported.",
		language.Indonesian: "Penyedia ini tidak didukung.",
		language.Spanish:    "Este proveedor no es compatible.",
		language.German:     "Dieser Anbieter wird nicht unterstützt.",
		language.French:     "Ce fournisseur n'est pas pris en charge.",
	}},
	{codeProviderUnavailable, map[language.Tag]string{
		language.English:    "This provider is not configured.",
		language.Indonesian: "Penyedia ini belum dikonfigurasi.",
		language.Spanish:    "Este proveedor no está configurado.",
		language.German:     "Dieser Anbieter ist nicht konfiguriert.",
		language.French:     "Ce fournisseur n'est pas configuré.",
	}},
	{codeProviderFailure, map[language.Tag]string{
		language.English:    "The image provider failed. Please try again.",
		language.Indonesian: "Penyedia gambar gagal. Silakan coba lagi.",
		language.Spanish:    "El proveedor de imágenes falló. Inténtalo de nuevo.",
		language.German:     "Der Bildanbieter ist fehlgeschlagen. Bitte erneut versuchen.",
		language.French:     "Le fournisseur d'images a échoué. Réessayez.",
	}},
	{codeNotFound, map[language.Tag]string{
		language.English:    "Not found.",
		language.Indonesian: "Tidak ditemukan.",
		language.Spanish:    "No encontrado.",
		language.German:     "Nicht gefunden.",
		language.French:     "Introuvable.",
	}},
	{codeNoImage, map[language.Tag]string{
		language.English:    "Load an image before drawing a mask.",
		language.Indonesian: "Muat gambar sebelum menggambar mask.",
		language.Spanish:    "Carga una imagen antes de dibujar la máscara.",
		language.German:     "Bitte zuerst ein Bild laden.",
		language.French:     "Chargez une image avant de dessiner le masque.",
	}},
	{codeInternal, map[language.Tag]string{
		language.English:    "Something went wrong.",
		language.Indonesian: "Terjadi kesalahan.",
		language.Spanish:    "Algo salió mal.",
		language.German:     "Etwas ist schiefgelaufen.",
		language.French:     "Une erreur est survenue.",
	}},
}

var (
	messageCatalog = buildCatalog()
	messageTags    = messageCatalog.Languages()
	messageMatcher = language.NewMatcher(messageTags)
)

func buildCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for _, m := range messages {
		for tag, text := range m.translations {
			if err := b.SetString(tag, m.key, text); err != nil {
				panic(err)
			}
		}
	}
	return b
}

// localize renders the message for code in locale, English when the locale
// is unknown.
func localize(locale, code string, args ...any) string {
	tag := language.English
	if parsed, err := language.Parse(locale); err == nil {
		if _, idx, confidence := messageMatcher.Match(parsed); confidence != language.No {
			tag = messageTags[idx]
		}
	}
	p := message.NewPrinter(tag, message.Catalog(messageCatalog))
	return p.Sprintf(code, args...)
}
