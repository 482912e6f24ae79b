package notify

import (
	"fmt"
	"time"
)

// buildActivatedMessage returns the content for a newly activated subscription.
func buildActivatedMessage(tenantName, plan, baseURL string) (subject, html, plainText string) {
	subject = "Tu suscripción de Restos está activa"

	html = fmt.Sprintf(`
		<html>
		<body>
			<h2>¡Suscripción activada!</h2>
			<p>Hola %s,</p>
			<p>Tu plan <strong>%s</strong> ya está activo. Tu carta ampliada y los pedidos online quedaron habilitados.</p>
			<p><a href="%s/dashboard">Ir al panel</a></p>
			<p>Gracias,<br>El equipo de Restos</p>
		</body>
		</html>
	`, tenantName, plan, baseURL)

	plainText = fmt.Sprintf(`Hola %s,

Tu plan %s ya está activo. Tu carta ampliada y los pedidos online quedaron habilitados.

Panel: %s/dashboard

Gracias,
El equipo de Restos
`, tenantName, plan, baseURL)

	return
}

// buildPaymentFailedMessage returns the content for a failed recurring charge.
func buildPaymentFailedMessage(tenantName, baseURL string) (subject, html, plainText string) {
	subject = "No pudimos cobrar tu suscripción de Restos"

	html = fmt.Sprintf(`
		<html>
		<body>
			<h2>Pago rechazado</h2>
			<p>Hola %s,</p>
			<p>El último cobro de tu suscripción fue rechazado. Tenés unos días de gracia antes de que tu cuenta vuelva al plan gratuito.</p>
			<p>Actualizá tu medio de pago desde el panel:</p>
			<p><a href="%s/dashboard/billing">Actualizar medio de pago</a></p>
			<p>Gracias,<br>El equipo de Restos</p>
		</body>
		</html>
	`, tenantName, baseURL)

	plainText = fmt.Sprintf(`Hola %s,

El último cobro de tu suscripción fue rechazado. Tenés unos días de gracia antes de que tu cuenta vuelva al plan gratuito.

Actualizá tu medio de pago: %s/dashboard/billing

Gracias,
El equipo de Restos
`, tenantName, baseURL)

	return
}

// buildCancelledMessage returns the content for a cancelled subscription.
func buildCancelledMessage(tenantName string, endDate *time.Time, baseURL string) (subject, html, plainText string) {
	subject = "Tu suscripción de Restos fue cancelada"

	until := "hoy"
	if endDate != nil {
		until = endDate.Format("2006-01-02")
	}

	html = fmt.Sprintf(`
		<html>
		<body>
			<h2>Suscripción cancelada</h2>
			<p>Hola %s,</p>
			<p>Tu suscripción fue cancelada. Mantenés los beneficios hasta el %s.</p>
			<p>Podés reactivarla en cualquier momento desde el panel:</p>
			<p><a href="%s/dashboard/billing">Reactivar</a></p>
			<p>Gracias,<br>El equipo de Restos</p>
		</body>
		</html>
	`, tenantName, until, baseURL)

	plainText = fmt.Sprintf(`Hola %s,

Tu suscripción fue cancelada. Mantenés los beneficios hasta el %s.

Reactivar: %s/dashboard/billing

Gracias,
El equipo de Restos
`, tenantName, until, baseURL)

	return
}

// buildReminderMessage returns the content for an upcoming renewal.
func buildReminderMessage(tenantName string, renewsAt time.Time, baseURL string) (subject, html, plainText string) {
	subject = "Tu suscripción de Restos se renueva pronto"

	date := renewsAt.Format("2006-01-02")

	html = fmt.Sprintf(`
		<html>
		<body>
			<p>Hola %s,</p>
			<p>Tu suscripción se renueva el <strong>%s</strong>. No hace falta que hagas nada; el cobro es automático.</p>
			<p>Si querés cambiar de plan o cancelar, entrá al panel antes de esa fecha:</p>
			<p><a href="%s/dashboard/billing">Administrar suscripción</a></p>
		</body>
		</html>
	`, tenantName, date, baseURL)

	plainText = fmt.Sprintf(`Hola %s,

Tu suscripción se renueva el %s. No hace falta que hagas nada; el cobro es automático.

Administrar: %s/dashboard/billing
`, tenantName, date, baseURL)

	return
}
