// Package jingle содержит модель данных для согласования медиа сессий по
// протоколу Jingle (XEP-0166, XEP-0167, XEP-0176, XEP-0177) и мульти-party
// расширению Muji (XEP-0272).
//
// Пакет не содержит поведения: только сущности (Content, Description,
// Payload, Transport, Candidate, Group), перечисления протокола (действия,
// причины завершения, session-info) и таксономию протокольных ошибок.
//
// Кодеки и машина состояний находятся в подпакетах:
//   - sdp: SDP текст <-> модель
//   - stanza: XML станзы <-> модель
//   - candidates: очереди ICE кандидатов
//   - pending: корреляция запросов и таймауты
//   - session: машины состояний 1:1 и Muji
package jingle
