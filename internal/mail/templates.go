package mail

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
	"time"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/models"
)

// MagicLinkEmail is the data of a login email.
type MagicLinkEmail struct {
	Context   models.AuthContext
	Email     string
	URL       string
	ExpiresIn time.Duration
	SiteName  string
}

type magicLinkView struct {
	SiteName string
	Portal   string
	URL      string
	Minutes  int
}

var magicLinkHTML = htmltemplate.Must(htmltemplate.New("magic_link.html").Parse(`<!DOCTYPE html>
<html lang="fr">
<body style="font-family: Arial, sans-serif; color: #1f2937;">
  <h1 style="font-size: 20px;">{{.SiteName}}</h1>
  <p>Bonjour,</p>
  <p>Cliquez sur le lien ci-dessous pour vous connecter à {{.Portal}}.</p>
  <p><a href="{{.URL}}" style="display: inline-block; padding: 12px 20px; background: #7c2d12; color: #ffffff; text-decoration: none; border-radius: 6px;">Se connecter</a></p>
  <p>Ce lien est valable {{.Minutes}} minutes et ne peut être utilisé qu'une seule fois.</p>
  <p style="color: #6b7280; font-size: 12px;">Si vous n'êtes pas à l'origine de cette demande, vous pouvez ignorer cet email.</p>
</body>
</html>
`))

var magicLinkText = texttemplate.Must(texttemplate.New("magic_link.txt").Parse(`{{.SiteName}}

Bonjour,

Ouvrez le lien ci-dessous pour vous connecter à {{.Portal}} :
{{.URL}}

Ce lien est valable {{.Minutes}} minutes et ne peut être utilisé qu'une seule fois.
Si vous n'êtes pas à l'origine de cette demande, vous pouvez ignorer cet email.
`))

// RenderMagicLink builds the login email for one portal.
func RenderMagicLink(data MagicLinkEmail) (*Message, error) {
	view := magicLinkView{
		SiteName: data.SiteName,
		Portal:   portalName(data.Context),
		URL:      data.URL,
		Minutes:  int(data.ExpiresIn.Minutes()),
	}

	var html, text bytes.Buffer
	if err := magicLinkHTML.Execute(&html, view); err != nil {
		return nil, fmt.Errorf("failed to render magic link html: %w", err)
	}
	if err := magicLinkText.Execute(&text, view); err != nil {
		return nil, fmt.Errorf("failed to render magic link text: %w", err)
	}

	return &Message{
		To:      data.Email,
		Subject: fmt.Sprintf("%s - Votre lien de connexion", data.SiteName),
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}

func portalName(c models.AuthContext) string {
	if c == models.ContextAdmin {
		return "l'administration du site"
	}
	return "l'espace musiciens"
}
